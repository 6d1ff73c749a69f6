package timeparsing

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	hoursMinutesRe = regexp.MustCompile(`^(\d+)\s*h(?:ours?|rs?)?\s*(\d+)\s*m(?:in(?:ute)?s?)?$`)
	singleUnitRe   = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(h|hr|hrs|hour|hours|m|min|mins|minute|minutes)$`)
)

// ParseMinutes converts a worked-time phrase to whole minutes.
//
// Accepted: "3h", "1.5 hours", "90m", "45 min", "2h30m", "2h 30m", and a bare
// integer, which is read as minutes.
func ParseMinutes(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive: %q", s)
		}
		return n, nil
	}
	if m := hoursMinutesRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		if total := h*60 + mins; total > 0 {
			return total, nil
		}
		return 0, fmt.Errorf("duration must be positive: %q", s)
	}
	m := singleUnitRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("not a duration: %q", s)
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration amount: %q", m[1])
	}
	if strings.HasPrefix(m[2], "h") {
		amount *= 60
	}
	total := int(math.Round(amount))
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", s)
	}
	return total, nil
}
