package hl7ql

import (
	"strings"

	"github.com/oarkflow/hl7ql/pkg/parsers"
	"github.com/oarkflow/hl7ql/pkg/stats"
)

// Query is one request against a message snapshot: an optional address to
// extract and an optional filter set deciding message inclusion.
type Query struct {
	Address string     `json:"address,omitempty"`
	Filter  *FilterSet `json:"filter,omitempty"`
}

// Result is what a run produces. Export carries the reconstructed text of
// the included messages for filter-only runs and for filtered address runs.
type Result struct {
	Stats  stats.Result `json:"stats"`
	Export string       `json:"export,omitempty"`
}

// Engine runs queries over delimited message text. It is a pure,
// synchronous transformation: every invocation rebuilds its view from the
// raw text and the query, and nothing is retained between calls.
type Engine struct {
	classifyValues   bool
	segmentInventory bool
}

// New builds an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		classifyValues:   true,
		segmentInventory: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run segments the raw text and executes the query against it.
func (e *Engine) Run(raw string, q Query) (*Result, error) {
	return e.RunMessages(parsers.SplitMessages(raw), q)
}

// RunMessages executes the query against an already-segmented snapshot.
// Messages are treated as read-only, so one snapshot may serve concurrent
// runs.
func (e *Engine) RunMessages(messages []*parsers.Message, q Query) (*Result, error) {
	var addr *parsers.Address
	if q.Address != "" {
		parsed, ok := parsers.ParseAddress(q.Address)
		if !ok {
			return nil, queryErrorf(InvalidAddress, "malformed address %q", q.Address)
		}
		addr = &parsed
	}

	result := &Result{}
	result.Stats.TotalMessages = len(messages)
	inventory := parsers.SegmentInventory(messages)
	if e.segmentInventory {
		result.Stats.SegmentInventory = inventory
	}

	filtered := messages
	if q.Filter != nil {
		compiled, err := q.Filter.compile()
		if err != nil {
			return nil, err
		}
		included := make([]*parsers.Message, 0, len(messages))
		for _, msg := range messages {
			if compiled.include(msg) {
				included = append(included, msg)
			}
		}
		filtered = included
		count := len(filtered)
		result.Stats.FilteredMessages = &count
	}

	if addr == nil {
		// Filter-only run: counts plus the reconstructed export, no value
		// statistics.
		result.Export = parsers.ExportMessages(filtered)
		return result, nil
	}

	if inventory[addr.Segment] == 0 {
		return nil, queryErrorf(NoMatchingData, "segment %s does not occur in any message", addr.Segment)
	}

	frequency := stats.NewFrequency()
	for _, msg := range filtered {
		hasValue := false
		for _, value := range msg.ResolveAll(*addr) {
			frequency.Add(value)
			if strings.TrimSpace(value) != "" {
				hasValue = true
			}
		}
		if hasValue {
			result.Stats.MessagesWithValue++
		} else {
			result.Stats.MessagesWithoutValue++
		}
	}
	result.Stats.DistinctValues = frequency.Rows(e.classifyValues)
	result.Stats.TotalOccurrences = frequency.Total()

	if q.Filter != nil {
		result.Export = parsers.ExportMessages(filtered)
	}
	return result, nil
}
