package stats

import (
	"sort"
	"strings"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/date"
)

// EmptyValueLabel is the display sentinel for the empty-value bucket. The
// bucket itself is marked with the Empty flag so a literal "(empty)" value
// in the data can never collide with it.
const EmptyValueLabel = "(empty)"

// Kind classifies an extracted value for reporting purposes.
type Kind string

const (
	KindEmpty     Kind = "empty"
	KindNumeric   Kind = "numeric"
	KindTimestamp Kind = "timestamp"
	KindText      Kind = "text"
)

// ValueCount is one row of the frequency table.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
	Empty bool   `json:"empty,omitempty"`
	Kind  Kind   `json:"kind,omitempty"`
}

// Result summarizes one engine run over a message set.
type Result struct {
	TotalMessages        int            `json:"totalMessages"`
	FilteredMessages     *int           `json:"filteredMessages,omitempty"`
	DistinctValues       []ValueCount   `json:"distinctValues,omitempty"`
	MessagesWithValue    int            `json:"messagesWithValue"`
	MessagesWithoutValue int            `json:"messagesWithoutValue"`
	TotalOccurrences     int            `json:"totalOccurrences"`
	SegmentInventory     map[string]int `json:"segmentInventory,omitempty"`
}

// Frequency accumulates extraction values into a count table. Values are
// trimmed before grouping; empty values (after trimming) go into a distinct
// bucket instead of being grouped under the empty string.
type Frequency struct {
	order  []string
	counts map[string]int
	empty  int
	total  int
}

// NewFrequency returns an empty accumulator.
func NewFrequency() *Frequency {
	return &Frequency{counts: make(map[string]int)}
}

// Add records one extraction.
func (f *Frequency) Add(value string) {
	f.total++
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		f.empty++
		return
	}
	if _, seen := f.counts[trimmed]; !seen {
		f.order = append(f.order, trimmed)
	}
	f.counts[trimmed]++
}

// Total returns the number of extractions recorded, empty ones included.
func (f *Frequency) Total() int {
	return f.total
}

// Rows returns the frequency table sorted by descending count. Ties keep
// first-seen insertion order; the empty bucket, when present, competes on
// count like any other row but always sorts after equal counts since it is
// appended last.
func (f *Frequency) Rows(classify bool) []ValueCount {
	rows := make([]ValueCount, 0, len(f.order)+1)
	for _, value := range f.order {
		row := ValueCount{Value: value, Count: f.counts[value]}
		if classify {
			row.Kind = Classify(value)
		}
		rows = append(rows, row)
	}
	if f.empty > 0 {
		row := ValueCount{Value: EmptyValueLabel, Count: f.empty, Empty: true}
		if classify {
			row.Kind = KindEmpty
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Count > rows[j].Count
	})
	return rows
}

// Classify tags a non-empty value as numeric, timestamp or plain text.
// Digit-only strings with the common timestamp widths are tried as
// timestamps first so dates of birth do not report as huge integers.
func Classify(value string) Kind {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return KindEmpty
	}
	if looksLikeTimestamp(trimmed) {
		if _, err := date.Parse(trimmed); err == nil {
			return KindTimestamp
		}
	}
	if _, ok := convert.ToFloat64(trimmed); ok {
		return KindNumeric
	}
	if _, err := date.Parse(trimmed); err == nil {
		return KindTimestamp
	}
	return KindText
}

func looksLikeTimestamp(s string) bool {
	if len(s) != 8 && len(s) != 12 && len(s) != 14 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
