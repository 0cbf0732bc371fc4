package parsers

import (
	"strings"
)

// Value resolves an address against this segment using the message's
// delimiters. Header segments keep the positional quirk of the wire format:
// field 1 is the field-separator character itself and field 2 is the raw
// encoding-character block, so field N (N > 2) lives at Fields[N-2]. For
// every other kind field N lives at Fields[N-1]. Out-of-range fields,
// components and subcomponents resolve to the empty string.
func (s *Segment) Value(addr Address, d Delimiters) string {
	var field string
	if s.Kind == HeaderKind {
		switch {
		case addr.Field == 1:
			return string(d.HeaderField)
		case addr.Field == 2:
			if len(s.Fields) == 0 {
				return ""
			}
			return s.Fields[0]
		default:
			idx := addr.Field - 2
			if idx < 0 || idx >= len(s.Fields) {
				return ""
			}
			field = s.Fields[idx]
		}
	} else {
		idx := addr.Field - 1
		if idx >= len(s.Fields) {
			return ""
		}
		field = s.Fields[idx]
	}
	if addr.Component == 0 {
		return field
	}
	components := strings.Split(field, string(d.Component))
	if addr.Component > len(components) {
		return ""
	}
	component := components[addr.Component-1]
	if addr.Subcomponent == 0 {
		return component
	}
	subcomponents := strings.Split(component, string(d.Subcomponent))
	if addr.Subcomponent > len(subcomponents) {
		return ""
	}
	return subcomponents[addr.Subcomponent-1]
}

// Resolve returns the addressed value from the first segment of the
// address's kind, or empty when no such segment exists.
func (m *Message) Resolve(addr Address) string {
	seg := m.First(addr.Segment)
	if seg == nil {
		return ""
	}
	return seg.Value(addr, m.Delimiters)
}

// ResolveAll resolves the address against every segment of the matching
// kind: each one contributes a value. A message with no matching segment
// contributes a single empty extraction so callers can count it as having
// no value.
func (m *Message) ResolveAll(addr Address) []string {
	segments := m.All(addr.Segment)
	if len(segments) == 0 {
		return []string{""}
	}
	values := make([]string, 0, len(segments))
	for _, seg := range segments {
		values = append(values, seg.Value(addr, m.Delimiters))
	}
	return values
}
