package hl7ql

import (
	"sort"
	"strings"

	"github.com/oarkflow/hl7ql/pkg/parsers"
)

// Operator is one comparison of the filter mini-language.
type Operator string

const (
	OpEqual       Operator = "="
	OpNotEqual    Operator = "!="
	OpContains    Operator = "contains"
	OpNotContains Operator = "!contains"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "!exists"
)

// negated reports whether the operator defaults to true when the addressed
// segment is missing from a message.
func (op Operator) negated() bool {
	return op == OpNotEqual || op == OpNotContains || op == OpNotExists
}

// Condition is one named comparison against an address's resolved value.
type Condition struct {
	Label    string          `json:"label"`
	Address  parsers.Address `json:"address"`
	Operator Operator        `json:"operator"`
	Value    string          `json:"value,omitempty"`
}

// binaryOperators in match priority order: "!=" must win over a bare "=",
// and "!contains" over "contains".
var binaryOperators = []Operator{OpNotEqual, OpEqual, OpNotContains, OpContains}

// ParseCondition parses one filter expression of the form
// "ADDRESS OPERATOR [VALUE]" or "ADDRESS (exists|!exists)". Operators are
// case-insensitive and trailing whitespace is tolerated. The left-hand
// token must itself be a valid address; any other shape returns ok=false.
func ParseCondition(label, expression string) (Condition, bool) {
	text := strings.TrimSpace(expression)
	addrEnd := 0
	for addrEnd < len(text) && !isSpaceByte(text[addrEnd]) && !isOperatorStart(text[addrEnd]) {
		addrEnd++
	}
	addr, ok := parsers.ParseAddress(text[:addrEnd])
	if !ok {
		return Condition{}, false
	}
	rest := strings.TrimLeft(text[addrEnd:], " \t")

	if strings.EqualFold(rest, string(OpExists)) {
		return Condition{Label: label, Address: addr, Operator: OpExists}, true
	}
	if strings.EqualFold(rest, string(OpNotExists)) {
		return Condition{Label: label, Address: addr, Operator: OpNotExists}, true
	}

	for _, op := range binaryOperators {
		value, ok := cutOperator(rest, string(op))
		if !ok {
			continue
		}
		return Condition{Label: label, Address: addr, Operator: op, Value: value}, true
	}
	return Condition{}, false
}

func isSpaceByte(ch byte) bool {
	return ch == ' ' || ch == '\t'
}

func isOperatorStart(ch byte) bool {
	return ch == '=' || ch == '!'
}

// cutOperator matches a case-insensitive operator prefix and returns the
// remainder as the comparand. Word operators must be followed by whitespace
// or end of input so "containsx" never matches "contains".
func cutOperator(rest, op string) (string, bool) {
	if len(rest) < len(op) || !strings.EqualFold(rest[:len(op)], op) {
		return "", false
	}
	tail := rest[len(op):]
	wordOp := isLabelChar(op[len(op)-1])
	if wordOp && tail != "" && !isSpaceByte(tail[0]) {
		return "", false
	}
	return strings.TrimSpace(tail), true
}

// Eval decides the condition against one message. When the addressed
// segment is missing, negation-shaped operators default to true and the
// rest to false; otherwise comparisons are case-insensitive over the
// resolved value.
func (c Condition) Eval(msg *parsers.Message) bool {
	seg := msg.First(c.Address.Segment)
	if seg == nil {
		return c.Operator.negated()
	}
	value := strings.ToUpper(seg.Value(c.Address, msg.Delimiters))
	comparand := strings.ToUpper(c.Value)
	switch c.Operator {
	case OpEqual:
		return value == comparand
	case OpNotEqual:
		return value != comparand
	case OpContains:
		return strings.Contains(value, comparand)
	case OpNotContains:
		return !strings.Contains(value, comparand)
	case OpExists:
		return value != ""
	case OpNotExists:
		return value == ""
	}
	return false
}

// Mode is how multiple filter conditions compose.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeAnd    Mode = "AND"
	ModeOr     Mode = "OR"
	ModeCustom Mode = "custom"
)

// FilterEntry is one raw filter line as entered: a label naming the
// condition and its expression text.
type FilterEntry struct {
	Label      string `json:"label"`
	Expression string `json:"expression"`
}

// FilterSet is an ordered list of named filter entries plus the combination
// mode. In custom mode Logic holds the boolean expression over the labels.
type FilterSet struct {
	Mode    Mode          `json:"mode"`
	Logic   string        `json:"logic,omitempty"`
	Entries []FilterEntry `json:"entries"`
}

// compiledFilter is a FilterSet whose entries parsed and, in custom mode,
// whose logic validated.
type compiledFilter struct {
	mode       Mode
	conditions []Condition
	logic      *LogicExpr
}

// compile validates the whole set up front: every entry must match the
// filter grammar (failures are reported together, naming each offending
// label) and custom logic must validate against the declared labels.
func (fs *FilterSet) compile() (*compiledFilter, error) {
	var invalid []string
	conditions := make([]Condition, 0, len(fs.Entries))
	labels := make([]string, 0, len(fs.Entries))
	for _, entry := range fs.Entries {
		cond, ok := ParseCondition(entry.Label, entry.Expression)
		if !ok {
			invalid = append(invalid, entry.Label)
			continue
		}
		conditions = append(conditions, cond)
		labels = append(labels, entry.Label)
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, queryErrorf(InvalidFilterExpression, "invalid filter expressions: %s", strings.Join(invalid, ", "))
	}

	cf := &compiledFilter{mode: fs.Mode, conditions: conditions}
	switch fs.Mode {
	case ModeSingle:
		if len(conditions) != 1 {
			return nil, queryErrorf(InvalidFilterExpression, "single mode requires exactly one condition, got %d", len(conditions))
		}
	case ModeAnd, ModeOr:
		if len(conditions) == 0 {
			return nil, queryErrorf(InvalidFilterExpression, "%s mode requires at least one condition", fs.Mode)
		}
	case ModeCustom:
		logic, err := ParseLogic(fs.Logic, labels)
		if err != nil {
			return nil, err
		}
		cf.logic = logic
	default:
		return nil, queryErrorf(InvalidFilterExpression, "unknown combination mode %q", fs.Mode)
	}
	return cf, nil
}

// include decides whether one message passes the filter set.
func (cf *compiledFilter) include(msg *parsers.Message) bool {
	switch cf.mode {
	case ModeSingle:
		return cf.conditions[0].Eval(msg)
	case ModeAnd:
		for _, cond := range cf.conditions {
			if !cond.Eval(msg) {
				return false
			}
		}
		return true
	case ModeOr:
		for _, cond := range cf.conditions {
			if cond.Eval(msg) {
				return true
			}
		}
		return false
	case ModeCustom:
		env := make(map[string]bool, len(cf.conditions))
		for _, cond := range cf.conditions {
			env[strings.ToUpper(cond.Label)] = cond.Eval(msg)
		}
		return cf.logic.Eval(env)
	}
	return false
}

// Validate checks the filter set without running it, for callers that want
// early feedback on filter entry and logic syntax.
func (fs *FilterSet) Validate() error {
	_, err := fs.compile()
	return err
}
