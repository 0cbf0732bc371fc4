package parsers

import (
	"strings"
)

// Address points into the field hierarchy of a message: segment kind, a
// 1-indexed field, and optional 1-indexed component and subcomponent.
// Zero means absent for the optional parts.
type Address struct {
	Segment      string
	Field        int
	Component    int
	Subcomponent int
}

// String renders the address back into its dotted form.
func (a Address) String() string {
	var b strings.Builder
	b.WriteString(a.Segment)
	b.WriteByte('.')
	b.WriteString(itoa(a.Field))
	if a.Component > 0 {
		b.WriteByte('.')
		b.WriteString(itoa(a.Component))
		if a.Subcomponent > 0 {
			b.WriteByte('.')
			b.WriteString(itoa(a.Subcomponent))
		}
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// ParseAddress parses a dotted address such as "PID.5.1". The grammar is
// SEGMENT "." FIELD ["." COMPONENT ["." SUBCOMPONENT]] with a
// case-insensitive segment token and strictly positive numeric parts.
// Parsing is all-or-nothing: any violation returns ok=false.
func ParseAddress(s string) (Address, bool) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 4 {
		return Address{}, false
	}
	segment := strings.ToUpper(parts[0])
	if segment == "" || !isKindToken(segment) {
		return Address{}, false
	}
	numbers := make([]int, 0, 3)
	for _, part := range parts[1:] {
		n, ok := parsePositive(part)
		if !ok {
			return Address{}, false
		}
		numbers = append(numbers, n)
	}
	addr := Address{Segment: segment, Field: numbers[0]}
	if len(numbers) > 1 {
		addr.Component = numbers[1]
	}
	if len(numbers) > 2 {
		addr.Subcomponent = numbers[2]
	}
	return addr, true
}

// parsePositive accepts only unsigned decimal digits with a value >= 1, so
// "-1", "+2", "1e3" and "" all fail.
func parsePositive(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
		if n > 1<<20 {
			return 0, false
		}
	}
	if n < 1 {
		return 0, false
	}
	return n, true
}

func isKindToken(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}
