// Package timeparsing turns the date and duration phrases people type into
// calendar dates and minute counts.
//
// Date phrases are tried in layers:
//  1. ISO calendar date (2025-03-12)
//  2. Compact offset (+30d, -1w, 2m)
//  3. Natural language (yesterday, last friday, March 12), via olebedev/when
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DateLayout matches the ledger's calendar-date format.
const DateLayout = "2006-01-02"

// compactOffsetRe matches compact offsets: [+-]?(\d+)([dwmy])
var compactOffsetRe = regexp.MustCompile(`^([+-]?)(\d+)([dwmy])$`)

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// IsCompactOffset reports whether s looks like +30d, -1w, 2m or 1y.
func IsCompactOffset(s string) bool {
	return compactOffsetRe.MatchString(strings.TrimSpace(s))
}

// ParseCompactOffset applies a compact offset to now.
//
// Units: d = days, w = weeks, m = months, y = years. No sign means forward.
func ParseCompactOffset(s string, now time.Time) (time.Time, error) {
	m := compactOffsetRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, fmt.Errorf("not a compact offset: %q", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid offset amount: %q", m[2])
	}
	if m[1] == "-" {
		n = -n
	}
	switch m[3] {
	case "d":
		return now.AddDate(0, 0, n), nil
	case "w":
		return now.AddDate(0, 0, 7*n), nil
	case "m":
		return now.AddDate(0, n, 0), nil
	default:
		return now.AddDate(n, 0, 0), nil
	}
}

// ParseDate resolves a whole phrase to a YYYY-MM-DD date relative to now.
func ParseDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty date")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if IsCompactOffset(s) {
		t, err := ParseCompactOffset(s, now)
		if err != nil {
			return "", err
		}
		return t.Format(DateLayout), nil
	}
	r, err := parser.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("not a date: %q", s)
	}
	return r.Time.Format(DateLayout), nil
}

// FindDate looks for a date phrase inside free text. It returns the date,
// the text with the phrase (and a leading "on") removed, and whether a date
// was found.
func FindDate(text string, now time.Time) (date string, rest string, ok bool) {
	r, err := parser.Parse(text, now)
	if err != nil || r == nil {
		return "", text, false
	}
	before := strings.TrimSpace(text[:r.Index])
	after := strings.TrimSpace(text[r.Index+len(r.Text):])
	lower := strings.ToLower(before)
	if strings.HasSuffix(lower, " on") || lower == "on" {
		before = strings.TrimSpace(before[:len(before)-2])
	}
	rest = strings.TrimSpace(before + " " + after)
	return r.Time.Format(DateLayout), rest, true
}
