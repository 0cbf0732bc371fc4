package hl7ql

import (
	"strings"
)

// Lexer walks a custom-logic expression byte by byte.
type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
	column       int
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	var tok Token
	switch l.ch {
	case '(':
		tok = newToken(LPAREN, l.ch, l.column)
	case ')':
		tok = newToken(RPAREN, l.ch, l.column)
	case 0:
		tok.Type = EOF
		tok.Literal = ""
		tok.Column = l.column
	default:
		if isLabelChar(l.ch) {
			column := l.column
			literal := l.readIdentifier()
			tokenType := lookupKeyword(literal)
			if tokenType == LABEL {
				return Token{Type: LABEL, Literal: literal, Column: column}
			}
			return Token{Type: tokenType, Literal: strings.ToUpper(literal), Column: column}
		}
		tok = newToken(ILLEGAL, l.ch, l.column)
	}
	l.readChar()
	return tok
}

// Tokens drains the lexer, always ending with an EOF token.
func (l *Lexer) Tokens() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens
		}
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.position
	for isLabelChar(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}
