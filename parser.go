package hl7ql

import (
	"sort"
	"strings"
)

// LogicExpr is a validated, parsed custom-logic expression over condition
// labels. Evaluation reduces the tree over boolean literals; there is no
// generic expression or code evaluator anywhere on this path.
type LogicExpr struct {
	root logicNode
}

type logicNode interface {
	eval(env map[string]bool) bool
}

type labelNode struct {
	name string
}

func (n *labelNode) eval(env map[string]bool) bool {
	return env[strings.ToUpper(n.name)]
}

type notNode struct {
	operand logicNode
}

func (n *notNode) eval(env map[string]bool) bool {
	return !n.operand.eval(env)
}

type binaryNode struct {
	op          TokenType
	left, right logicNode
}

func (n *binaryNode) eval(env map[string]bool) bool {
	if n.op == AND {
		return n.left.eval(env) && n.right.eval(env)
	}
	return n.left.eval(env) || n.right.eval(env)
}

// Eval resolves the expression against per-label condition outcomes.
// Label lookup is case-insensitive; env keys must be upper-case.
func (e *LogicExpr) Eval(env map[string]bool) bool {
	return e.root.eval(env)
}

// ParseLogic validates and parses a custom-logic expression against the
// declared labels. Validation runs first and reports the specific violated
// rule as an InvalidCustomLogic error; evaluation never sees an expression
// that failed it.
func ParseLogic(expression string, labels []string) (*LogicExpr, error) {
	tokens := NewLexer(expression).Tokens()
	if err := validateLogicTokens(tokens, labels); err != nil {
		return nil, err
	}
	p := &logicParser{tokens: tokens}
	root := p.parseOr()
	if p.err != nil {
		return nil, p.err
	}
	if p.current().Type != EOF {
		return nil, queryErrorf(InvalidCustomLogic, "unexpected token %q", p.current().Literal)
	}
	return &LogicExpr{root: root}, nil
}

// validateLogicTokens enforces the structural rules of the grammar so the
// caller gets a named reason instead of a bare parse failure.
func validateLogicTokens(tokens []Token, labels []string) error {
	declared := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		declared[strings.ToUpper(label)] = struct{}{}
	}

	if len(tokens) == 0 || tokens[0].Type == EOF {
		return queryErrorf(InvalidCustomLogic, "expression is empty")
	}

	depth := 0
	var unknown []string
	seenUnknown := make(map[string]struct{})
	for _, tok := range tokens {
		switch tok.Type {
		case ILLEGAL:
			return queryErrorf(InvalidCustomLogic, "unexpected character %q at column %d", tok.Literal, tok.Column)
		case LPAREN:
			depth++
		case RPAREN:
			depth--
			if depth < 0 {
				return queryErrorf(InvalidCustomLogic, "unbalanced parentheses: unexpected \")\" at column %d", tok.Column)
			}
		case LABEL:
			key := strings.ToUpper(tok.Literal)
			if _, ok := declared[key]; !ok {
				if _, dup := seenUnknown[key]; !dup {
					seenUnknown[key] = struct{}{}
					unknown = append(unknown, tok.Literal)
				}
			}
		}
	}
	if depth != 0 {
		return queryErrorf(InvalidCustomLogic, "unbalanced parentheses: %d \"(\" left open", depth)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return queryErrorf(InvalidCustomLogic, "unknown labels: %s", strings.Join(unknown, ", "))
	}

	first := tokens[0]
	if isOperatorToken(first.Type) {
		return queryErrorf(InvalidCustomLogic, "expression cannot start with %s", first.Type)
	}
	last := tokens[len(tokens)-2] // the token before EOF
	if isOperatorToken(last.Type) || last.Type == NOT {
		return queryErrorf(InvalidCustomLogic, "expression cannot end with %s", last.Type)
	}

	for i := 0; i+1 < len(tokens); i++ {
		cur, next := tokens[i], tokens[i+1]
		if isOperatorToken(cur.Type) && isOperatorToken(next.Type) {
			return queryErrorf(InvalidCustomLogic, "consecutive operators %s %s at column %d", cur.Type, next.Type, next.Column)
		}
		if cur.Type == NOT && next.Type != LABEL && next.Type != LPAREN && next.Type != NOT {
			return queryErrorf(InvalidCustomLogic, "NOT must be followed by a label or \"(\", got %s", next.Type)
		}
		if cur.Type == LABEL && next.Type == LABEL {
			return queryErrorf(InvalidCustomLogic, "labels %q and %q need an operator between them", cur.Literal, next.Literal)
		}
	}
	return nil
}

// logicParser is a recursive-descent parser with the usual precedence:
// NOT binds tighter than AND, AND tighter than OR.
type logicParser struct {
	tokens []Token
	pos    int
	err    error
}

func (p *logicParser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

func (p *logicParser) advance() Token {
	tok := p.current()
	p.pos++
	return tok
}

func (p *logicParser) fail(format string, args ...any) logicNode {
	if p.err == nil {
		p.err = queryErrorf(InvalidCustomLogic, format, args...)
	}
	return &labelNode{}
}

func (p *logicParser) parseOr() logicNode {
	left := p.parseAnd()
	for p.err == nil && p.current().Type == OR {
		p.advance()
		right := p.parseAnd()
		left = &binaryNode{op: OR, left: left, right: right}
	}
	return left
}

func (p *logicParser) parseAnd() logicNode {
	left := p.parseUnary()
	for p.err == nil && p.current().Type == AND {
		p.advance()
		right := p.parseUnary()
		left = &binaryNode{op: AND, left: left, right: right}
	}
	return left
}

func (p *logicParser) parseUnary() logicNode {
	if p.current().Type == NOT {
		p.advance()
		return &notNode{operand: p.parseUnary()}
	}
	return p.parsePrimary()
}

func (p *logicParser) parsePrimary() logicNode {
	switch tok := p.advance(); tok.Type {
	case LABEL:
		return &labelNode{name: tok.Literal}
	case LPAREN:
		inner := p.parseOr()
		if p.current().Type != RPAREN {
			return p.fail("expected \")\" at column %d", p.current().Column)
		}
		p.advance()
		return inner
	default:
		return p.fail("expected a label or \"(\", got %s", tok.Type)
	}
}
