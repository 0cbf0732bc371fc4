package parsers

import (
	"strings"
)

// Export terminators. Segments within a message are joined by a bare
// carriage return while messages are joined by "\r\r\n". The asymmetry is a
// compatibility contract with existing consumers and must not be normalized.
const (
	segmentTerminator = "\r"
	messageTerminator = "\r\r\n"
)

// Raw rejoins the segment into its wire form using the message delimiters.
func (s *Segment) Raw(d Delimiters) string {
	sep := d.Field
	if s.Kind == HeaderKind {
		sep = d.HeaderField
	}
	if len(s.Fields) == 0 {
		return s.Kind
	}
	var b strings.Builder
	b.WriteString(s.Kind)
	for _, field := range s.Fields {
		b.WriteByte(sep)
		b.WriteString(field)
	}
	return b.String()
}

// Export rejoins the message's segments with the segment terminator.
func (m *Message) Export() string {
	lines := make([]string, 0, len(m.Segments))
	for i := range m.Segments {
		lines = append(lines, m.Segments[i].Raw(m.Delimiters))
	}
	return strings.Join(lines, segmentTerminator)
}

// ExportMessages rejoins a message set with the message terminator.
func ExportMessages(messages []*Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, msg.Export())
	}
	return strings.Join(parts, messageTerminator)
}
