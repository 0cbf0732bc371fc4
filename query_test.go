package hl7ql

import (
	"strings"
	"testing"

	"github.com/oarkflow/hl7ql/pkg/parsers"
	"github.com/oarkflow/hl7ql/pkg/stats"
)

const twoPatients = "MSH|^~\\&|A\rPID|||ID1^^^SYS||DOE^JOHN\r" +
	"MSH|^~\\&|A\rPID|||ID2^^^SYS||SMITH^JANE"

func TestRunAddressStatistics(t *testing.T) {
	engine := New(WithValueClassification(false))
	result, err := engine.Run(twoPatients, Query{Address: "PID.5.1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s := result.Stats
	if s.TotalMessages != 2 {
		t.Fatalf("totalMessages = %d", s.TotalMessages)
	}
	if s.FilteredMessages != nil {
		t.Fatal("filteredMessages should be absent without filters")
	}
	if s.MessagesWithValue != 2 || s.MessagesWithoutValue != 0 {
		t.Fatalf("with=%d without=%d", s.MessagesWithValue, s.MessagesWithoutValue)
	}
	if s.TotalOccurrences != 2 {
		t.Fatalf("totalOccurrences = %d", s.TotalOccurrences)
	}
	if len(s.DistinctValues) != 2 {
		t.Fatalf("distinctValues = %+v", s.DistinctValues)
	}
	if s.DistinctValues[0].Value != "DOE" || s.DistinctValues[0].Count != 1 {
		t.Fatalf("first value = %+v", s.DistinctValues[0])
	}
	if s.DistinctValues[1].Value != "SMITH" || s.DistinctValues[1].Count != 1 {
		t.Fatalf("second value = %+v", s.DistinctValues[1])
	}
	if result.Export != "" {
		t.Fatal("export is only produced when filters were applied")
	}
}

func TestRunOutOfRangeField(t *testing.T) {
	engine := New()
	result, err := engine.Run(twoPatients, Query{Address: "PID.99"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s := result.Stats
	if s.MessagesWithValue != 0 || s.MessagesWithoutValue != 2 {
		t.Fatalf("with=%d without=%d", s.MessagesWithValue, s.MessagesWithoutValue)
	}
	if len(s.DistinctValues) != 1 {
		t.Fatalf("expected only the empty bucket, got %+v", s.DistinctValues)
	}
	bucket := s.DistinctValues[0]
	if !bucket.Empty || bucket.Count != 2 || bucket.Value != stats.EmptyValueLabel {
		t.Fatalf("empty bucket = %+v", bucket)
	}
}

func TestRunSingleFilter(t *testing.T) {
	engine := New()
	result, err := engine.Run(twoPatients, Query{
		Address: "PID.5.1",
		Filter: &FilterSet{
			Mode:    ModeSingle,
			Entries: []FilterEntry{{Label: "F1", Expression: "PID.5.1 = DOE"}},
		},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s := result.Stats
	if s.FilteredMessages == nil || *s.FilteredMessages != 1 {
		t.Fatalf("filteredMessages = %v", s.FilteredMessages)
	}
	if s.TotalMessages != 2 {
		t.Fatalf("totalMessages = %d", s.TotalMessages)
	}
	if len(s.DistinctValues) != 1 || s.DistinctValues[0].Value != "DOE" {
		t.Fatalf("distinctValues = %+v", s.DistinctValues)
	}
	if !strings.Contains(result.Export, "DOE^JOHN") || strings.Contains(result.Export, "SMITH") {
		t.Fatalf("export should carry only the included message: %q", result.Export)
	}
}

func TestRunFilterOnlyExport(t *testing.T) {
	engine := New()
	result, err := engine.Run(twoPatients, Query{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := "MSH|^~\\&|A\rPID|||ID1^^^SYS||DOE^JOHN\r\r\n" +
		"MSH|^~\\&|A\rPID|||ID2^^^SYS||SMITH^JANE"
	if result.Export != want {
		t.Fatalf("unfiltered export:\n got %q\nwant %q", result.Export, want)
	}
	if result.Stats.DistinctValues != nil {
		t.Fatal("filter-only run must not carry value statistics")
	}
}

func TestRunAndOrMatchConjunctionDisjunction(t *testing.T) {
	messages := parsers.SplitMessages(twoPatients)
	entrySets := [][]FilterEntry{
		{
			{Label: "F1", Expression: "PID.5.1 = DOE"},
			{Label: "F2", Expression: "PID.5.2 = JOHN"},
		},
		{
			{Label: "F1", Expression: "PID.5.1 = DOE"},
			{Label: "F2", Expression: "PID.5.1 = SMITH"},
			{Label: "F3", Expression: "PID.3.1 exists"},
		},
		{
			{Label: "F1", Expression: "PID.5.1 contains O"},
			{Label: "F2", Expression: "PID.5.1 !exists"},
			{Label: "F3", Expression: "PID.5.2 != JANE"},
			{Label: "F4", Expression: "MSH.3 = A"},
		},
	}
	for _, entries := range entrySets {
		conditions := make([]Condition, len(entries))
		for i, entry := range entries {
			cond, ok := ParseCondition(entry.Label, entry.Expression)
			if !ok {
				t.Fatalf("entry %q should parse", entry.Expression)
			}
			conditions[i] = cond
		}
		for _, msg := range messages {
			wantAnd, wantOr := true, false
			for _, cond := range conditions {
				outcome := cond.Eval(msg)
				wantAnd = wantAnd && outcome
				wantOr = wantOr || outcome
			}
			for mode, want := range map[Mode]bool{ModeAnd: wantAnd, ModeOr: wantOr} {
				fs := &FilterSet{Mode: mode, Entries: entries}
				compiled, err := fs.compile()
				if err != nil {
					t.Fatalf("compile failed: %v", err)
				}
				if got := compiled.include(msg); got != want {
					t.Fatalf("mode %s over %d conditions = %v, want %v", mode, len(entries), got, want)
				}
			}
		}
	}
}

func TestRunCustomLogic(t *testing.T) {
	engine := New()
	query := Query{
		Filter: &FilterSet{
			Mode:  ModeCustom,
			Logic: "F1 AND NOT F2",
			Entries: []FilterEntry{
				{Label: "F1", Expression: "PID.5.1 = DOE"},
				{Label: "F2", Expression: "PID.5.2 = JANE"},
			},
		},
	}
	result, err := engine.Run(twoPatients, query)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if *result.Stats.FilteredMessages != 1 {
		t.Fatalf("filteredMessages = %d", *result.Stats.FilteredMessages)
	}

	// Flip F2 so it also matches the DOE message: now nothing passes.
	query.Filter.Entries[1].Expression = "PID.5.2 = JOHN"
	result, err = engine.Run(twoPatients, query)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if *result.Stats.FilteredMessages != 0 {
		t.Fatalf("filteredMessages = %d after flip", *result.Stats.FilteredMessages)
	}
}

func TestRunCustomLogicUnknownLabel(t *testing.T) {
	engine := New()
	_, err := engine.Run(twoPatients, Query{
		Filter: &FilterSet{
			Mode:    ModeCustom,
			Logic:   "F1 AND F9",
			Entries: []FilterEntry{{Label: "F1", Expression: "PID.5.1 exists"}},
		},
	})
	if KindOf(err) != InvalidCustomLogic {
		t.Fatalf("expected InvalidCustomLogic, got %v", err)
	}
	if !strings.Contains(err.Error(), "F9") {
		t.Fatalf("error should name F9: %v", err)
	}
}

func TestRunInvalidAddress(t *testing.T) {
	engine := New()
	_, err := engine.Run(twoPatients, Query{Address: "PID.x"})
	if KindOf(err) != InvalidAddress {
		t.Fatalf("expected InvalidAddress, got %v", err)
	}
}

func TestRunNoMatchingData(t *testing.T) {
	engine := New()
	_, err := engine.Run(twoPatients, Query{Address: "OBX.5"})
	if KindOf(err) != NoMatchingData {
		t.Fatalf("expected NoMatchingData, got %v", err)
	}
}

func TestRunMultipleSegmentsPerMessage(t *testing.T) {
	raw := "MSH|^~\\&|A\rOBX|1||GLU||105\rOBX|2||NA||105\rMSH|^~\\&|B\rPID|1"
	engine := New(WithValueClassification(false))
	result, err := engine.Run(raw, Query{Address: "OBX.5"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s := result.Stats
	if s.TotalOccurrences != 3 {
		t.Fatalf("totalOccurrences = %d, want 3 (two OBX + one empty)", s.TotalOccurrences)
	}
	if s.MessagesWithValue != 1 || s.MessagesWithoutValue != 1 {
		t.Fatalf("with=%d without=%d", s.MessagesWithValue, s.MessagesWithoutValue)
	}
	if s.DistinctValues[0].Value != "105" || s.DistinctValues[0].Count != 2 {
		t.Fatalf("distinctValues = %+v", s.DistinctValues)
	}
}

func TestRunIdempotent(t *testing.T) {
	engine := New()
	query := Query{
		Address: "PID.5.1",
		Filter: &FilterSet{
			Mode:    ModeSingle,
			Entries: []FilterEntry{{Label: "F1", Expression: "PID.5.1 contains O"}},
		},
	}
	first, err := engine.Run(twoPatients, query)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := engine.Run(twoPatients, query)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if *first.Stats.FilteredMessages != *second.Stats.FilteredMessages {
		t.Fatal("filtered counts differ between identical runs")
	}
	if first.Export != second.Export {
		t.Fatal("export text differs between identical runs")
	}
}

func TestRunValueClassification(t *testing.T) {
	raw := "MSH|^~\\&|A\rPID|||ID1||DOE^JOHN||19800101"
	engine := New()
	result, err := engine.Run(raw, Query{Address: "PID.7"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Stats.DistinctValues[0].Kind != stats.KindTimestamp {
		t.Fatalf("PID.7 should classify as timestamp: %+v", result.Stats.DistinctValues[0])
	}
}
