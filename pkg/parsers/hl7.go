package parsers

import (
	"strings"
)

// HeaderKind is the segment kind that opens a new message.
const HeaderKind = "MSH"

// Delimiters holds the structural separators of one message. The header
// record declares its own field separator, which may differ from the one
// applied to the rest of the message, so both are kept.
type Delimiters struct {
	Field        byte
	Component    byte
	Subcomponent byte
	HeaderField  byte
}

// DefaultDelimiters returns the standard HL7 separators used when a header
// does not declare its own.
func DefaultDelimiters() Delimiters {
	return Delimiters{
		Field:        '|',
		Component:    '^',
		Subcomponent: '&',
		HeaderField:  '|',
	}
}

// ResolveFrom reads the separators from a header record: the byte at
// position 3 is the field separator and the four bytes after it are the
// encoding characters (first = component, fourth = subcomponent). A header
// shorter than required keeps the previously resolved values; malformed
// declarations never raise an error.
func (d *Delimiters) ResolveFrom(header string) {
	if len(header) > 3 {
		d.HeaderField = header[3]
		d.Field = header[3]
	}
	if len(header) >= 8 {
		enc := header[4:8]
		d.Component = enc[0]
		d.Subcomponent = enc[3]
	}
}

// Segment is one record of a message: a 3-character kind label and the raw
// fields split on the active field separator. For the header kind, Fields[0]
// is the verbatim encoding-character block, never re-split.
type Segment struct {
	Kind   string
	Fields []string
}

// Message is an ordered run of segments starting at a header record,
// together with the delimiters it was parsed with. Messages are never
// mutated after segmentation and may be shared between readers.
type Message struct {
	Delimiters Delimiters
	Segments   []Segment
}

// First returns the first segment of the given kind, or nil. Kind matching
// is case-insensitive to mirror the address grammar.
func (m *Message) First(kind string) *Segment {
	for i := range m.Segments {
		if strings.EqualFold(m.Segments[i].Kind, kind) {
			return &m.Segments[i]
		}
	}
	return nil
}

// All returns every segment of the given kind in order.
func (m *Message) All(kind string) []*Segment {
	var out []*Segment
	for i := range m.Segments {
		if strings.EqualFold(m.Segments[i].Kind, kind) {
			out = append(out, &m.Segments[i])
		}
	}
	return out
}

// knownKinds is the accepted segment vocabulary. Lines whose kind is not
// listed here (and is not a Z custom segment) are dropped during
// segmentation rather than stored.
var knownKinds = map[string]struct{}{
	"MSH": {}, "MSA": {}, "ERR": {}, "EVN": {}, "PID": {}, "PD1": {},
	"NK1": {}, "PV1": {}, "PV2": {}, "AL1": {}, "DG1": {}, "DRG": {},
	"PR1": {}, "ROL": {}, "GT1": {}, "IN1": {}, "IN2": {}, "IN3": {},
	"ACC": {}, "OBR": {}, "OBX": {}, "ORC": {}, "NTE": {}, "QRD": {},
	"QRF": {}, "RXA": {}, "RXC": {}, "RXE": {}, "RXR": {}, "RXO": {},
	"RXD": {}, "SCH": {}, "RGS": {}, "AIG": {}, "AIL": {}, "AIS": {},
	"AIP": {}, "FT1": {}, "SPM": {}, "TXA": {}, "TQ1": {}, "TQ2": {},
	"MRG": {}, "STF": {}, "PRA": {}, "ARQ": {}, "APR": {}, "BLG": {},
	"CTD": {}, "CTI": {}, "DB1": {}, "DSC": {}, "DSP": {}, "FHS": {},
	"FTS": {}, "BHS": {}, "BTS": {}, "LAN": {}, "EDU": {}, "IAM": {},
	"PDA": {}, "SFT": {}, "UAC": {}, "UB1": {}, "UB2": {},
}

// KnownKind reports whether the 3-character label is an accepted segment
// kind. Z-prefixed custom segments are accepted by convention.
func KnownKind(kind string) bool {
	if len(kind) != 3 {
		return false
	}
	if _, ok := knownKinds[kind]; ok {
		return true
	}
	return kind[0] == 'Z' && isAlnum(kind[1]) && isAlnum(kind[2])
}

func isAlnum(ch byte) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9'
}

// SplitMessages segments raw delimited text into ordered messages. A header
// record closes any open message and opens a new one, re-resolving the
// delimiters from that line; delimiter values carry over to subsequent
// headers when a header is too short to declare its own. Lines before the
// first header, blank lines, and lines with unrecognized kinds are dropped.
// Text with no header line yields zero messages.
func SplitMessages(raw string) []*Message {
	delims := DefaultDelimiters()
	var messages []*Message
	var current *Message

	for _, line := range splitLines(raw) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) < 3 {
			continue
		}
		kind := line[:3]
		if kind == HeaderKind {
			delims.ResolveFrom(line)
			current = &Message{
				Delimiters: delims,
				Segments:   []Segment{parseHeaderLine(line, delims)},
			}
			messages = append(messages, current)
			continue
		}
		if current == nil || !KnownKind(kind) {
			continue
		}
		current.Segments = append(current.Segments, parseSegmentLine(kind, line, delims))
	}
	return messages
}

// splitLines treats \r\n, \n and \r each as a line break.
func splitLines(raw string) []string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.Split(normalized, "\n")
}

// parseHeaderLine splits a header record. The encoding-character block at
// the fixed position after the kind occupies Fields[0] verbatim; ordinary
// fields follow after the next field separator.
func parseHeaderLine(line string, d Delimiters) Segment {
	seg := Segment{Kind: HeaderKind}
	if len(line) <= 4 {
		return seg
	}
	if len(line) <= 8 {
		seg.Fields = []string{line[4:]}
		return seg
	}
	seg.Fields = append(seg.Fields, line[4:8])
	rest := line[8:]
	if rest[0] == d.HeaderField {
		rest = rest[1:]
	}
	seg.Fields = append(seg.Fields, strings.Split(rest, string(d.HeaderField))...)
	return seg
}

// parseSegmentLine splits a non-header record: one leading field separator
// is stripped when present, the remainder splits on the field separator.
func parseSegmentLine(kind, line string, d Delimiters) Segment {
	body := line[3:]
	if body == "" {
		return Segment{Kind: kind}
	}
	if body[0] == d.Field {
		body = body[1:]
	}
	return Segment{Kind: kind, Fields: strings.Split(body, string(d.Field))}
}

// SegmentInventory counts segment occurrences by kind across a message set.
func SegmentInventory(messages []*Message) map[string]int {
	inventory := make(map[string]int)
	for _, msg := range messages {
		for _, seg := range msg.Segments {
			inventory[seg.Kind]++
		}
	}
	return inventory
}
