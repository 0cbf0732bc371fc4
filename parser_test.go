package hl7ql

import (
	"strings"
	"testing"
)

func evalLogic(t *testing.T, expr string, labels []string, env map[string]bool) bool {
	t.Helper()
	logic, err := ParseLogic(expr, labels)
	if err != nil {
		t.Fatalf("ParseLogic(%q) failed: %v", expr, err)
	}
	return logic.Eval(env)
}

func TestLogicEval(t *testing.T) {
	labels := []string{"F1", "F2", "F3"}
	cases := []struct {
		expr string
		env  map[string]bool
		want bool
	}{
		{"F1", map[string]bool{"F1": true}, true},
		{"F1", map[string]bool{"F1": false}, false},
		{"F1 AND F2", map[string]bool{"F1": true, "F2": true}, true},
		{"F1 AND F2", map[string]bool{"F1": true, "F2": false}, false},
		{"F1 OR F2", map[string]bool{"F1": false, "F2": true}, true},
		{"NOT F1", map[string]bool{"F1": false}, true},
		{"F1 AND NOT F2", map[string]bool{"F1": true, "F2": false}, true},
		{"F1 AND NOT F2", map[string]bool{"F1": true, "F2": true}, false},
		{"f1 and not f2", map[string]bool{"F1": true, "F2": false}, true},
		{"(F1 OR F2) AND F3", map[string]bool{"F1": false, "F2": true, "F3": true}, true},
		{"F1 OR F2 AND F3", map[string]bool{"F1": true, "F2": false, "F3": false}, true},
		{"NOT (F1 AND F2)", map[string]bool{"F1": true, "F2": false}, true},
		{"NOT NOT F1", map[string]bool{"F1": true}, true},
	}
	for _, tc := range cases {
		if got := evalLogic(t, tc.expr, labels, tc.env); got != tc.want {
			t.Fatalf("eval(%q) with %v = %v, want %v", tc.expr, tc.env, got, tc.want)
		}
	}
}

func TestLogicLabelPrefixCollision(t *testing.T) {
	// F10 must evaluate as its own label, never as F1 followed by a digit.
	labels := []string{"F1", "F10"}
	env := map[string]bool{"F1": false, "F10": true}
	if !evalLogic(t, "F10", labels, env) {
		t.Fatal("F10 should read the F10 condition")
	}
	if evalLogic(t, "F1", labels, env) {
		t.Fatal("F1 should read the F1 condition")
	}
}

func TestLogicValidation(t *testing.T) {
	labels := []string{"F1", "F2"}
	cases := []struct {
		expr    string
		mention string
	}{
		{"", "empty"},
		{"   ", "empty"},
		{"AND F1", "start"},
		{"OR F1", "start"},
		{"F1 AND", "end"},
		{"F1 OR", "end"},
		{"F1 NOT", "end"},
		{"F1 AND OR F2", "consecutive"},
		{"F1 OR OR F2", "consecutive"},
		{"NOT AND F1", "NOT"},
		{"NOT OR F1", "NOT"},
		{"F1 F2", "operator"},
		{"(F1 AND F2", "parenthes"},
		{"F1 AND F2)", "parenthes"},
		{"F1 AND F9", "F9"},
		{"F1 && F2", "character"},
	}
	for _, tc := range cases {
		_, err := ParseLogic(tc.expr, labels)
		if err == nil {
			t.Fatalf("ParseLogic(%q) should fail", tc.expr)
		}
		if KindOf(err) != InvalidCustomLogic {
			t.Fatalf("ParseLogic(%q) kind = %s", tc.expr, KindOf(err))
		}
		if !strings.Contains(err.Error(), tc.mention) {
			t.Fatalf("ParseLogic(%q) error %q should mention %q", tc.expr, err.Error(), tc.mention)
		}
	}
}

func TestLogicUnknownLabelsNamed(t *testing.T) {
	_, err := ParseLogic("F1 AND F9 OR F8", []string{"F1"})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "F9") || !strings.Contains(msg, "F8") {
		t.Fatalf("error should name both unknown labels: %s", msg)
	}
}
