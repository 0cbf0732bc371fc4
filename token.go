package hl7ql

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType enumerates the closed token set of the custom-logic language.
// Expression text can originate from the same workflow as message content,
// so evaluation never leaves this grammar.
type TokenType string

const (
	ILLEGAL TokenType = "ILLEGAL"
	EOF     TokenType = "EOF"

	LABEL TokenType = "LABEL"

	AND TokenType = "AND"
	OR  TokenType = "OR"
	NOT TokenType = "NOT"

	LPAREN TokenType = "("
	RPAREN TokenType = ")"
)

type Token struct {
	Type    TokenType
	Literal string
	Column  int
}

func (t Token) String() string {
	return fmt.Sprintf("Token(%s, %q, Column: %d)", t.Type, t.Literal, t.Column)
}

func newToken(tokenType TokenType, ch byte, column int) Token {
	return Token{Type: tokenType, Literal: string(ch), Column: column}
}

// lookupKeyword classifies an identifier. Keywords are case-insensitive;
// everything else is a condition label. Labels are matched as whole tokens,
// so F10 can never be mis-read as F1 followed by a digit.
func lookupKeyword(ident string) TokenType {
	switch strings.ToUpper(ident) {
	case "AND":
		return AND
	case "OR":
		return OR
	case "NOT":
		return NOT
	default:
		return LABEL
	}
}

func isLabelChar(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_'
}

func isOperatorToken(t TokenType) bool {
	return t == AND || t == OR
}
