package conversation

import (
	"strings"
	"unicode"
)

// NormalizeIdentity reduces a sender address to E.164 form. Channel prefixes
// such as "whatsapp:" are dropped; a bare ten-digit number is taken as North
// American. Anything without digits is returned trimmed and lowercased.
func NormalizeIdentity(from string) string {
	s := strings.TrimSpace(from)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	var digits strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case d == "":
		return strings.ToLower(strings.TrimSpace(from))
	case len(d) == 10 && !strings.HasPrefix(s, "+"):
		return "+1" + d
	default:
		return "+" + d
	}
}
