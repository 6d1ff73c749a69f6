package extract

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/timeparsing"
)

// keywords maps leading words to a command type. Longer phrases are listed
// first so "change order" wins over a one-word match.
var keywords = []struct {
	phrase string
	typ    cil.Type
}{
	{"change order", cil.CreateChangeOrder},
	{"add price", cil.AddPricingItem},
	{"update price", cil.UpdatePricingItem},
	{"delete price", cil.DeletePricingItem},
	{"remove price", cil.DeletePricingItem},
	{"new job", cil.CreateJob},
	{"create job", cil.CreateJob},
	{"expense", cil.LogExpense},
	{"exp", cil.LogExpense},
	{"spent", cil.LogExpense},
	{"bought", cil.LogExpense},
	{"revenue", cil.LogRevenue},
	{"payment", cil.LogRevenue},
	{"received", cil.LogRevenue},
	{"paid", cil.LogRevenue},
	{"time", cil.LogTime},
	{"hours", cil.LogTime},
	{"job", cil.CreateJob},
	{"lead", cil.CreateLead},
	{"quote", cil.CreateQuote},
	{"agreement", cil.CreateAgreement},
	{"invoice", cil.CreateInvoice},
}

var (
	isoDateRe  = regexp.MustCompile(`(?:^|\s)(?:on\s+)?(\d{4}-\d{2}-\d{2})(?:\s|$)`)
	moneyRe    = regexp.MustCompile(`(?:^|\s)\$?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?(?:\s|$)`)
	amountRe   = regexp.MustCompile(`^\$?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?$`)
	jobTailRe  = regexp.MustCompile(`(?i)^(.*?)\s*\b(?:for|on)\s+(?:job\s+)?(.+)$`)
	fromRe     = regexp.MustCompile(`(?i)^(.*?)\s*\b(?:from|at)\s+(.+)$`)
	durationRe = regexp.MustCompile(`(?i)(?:^|\s)(\d+\s*h(?:ours?|rs?)?\s*\d+\s*m(?:in(?:ute)?s?)?|\d+(?:\.\d+)?\s*(?:hours?|hrs?|h|minutes?|mins?|m))(?:\s|$)`)
	phoneRe    = regexp.MustCompile(`\+?\d[\d\-\s().]{5,}\d`)
	signedByRe = regexp.MustCompile(`(?i)^(.*?)\s*\bsigned\s+by\s+(.+)$`)
	dueRe      = regexp.MustCompile(`(?i)^(.*?)\s*\bdue\s+(.+)$`)
	perUnitRe  = regexp.MustCompile(`(?i)^(.*?)\s*(?:\bper\s+|/)([a-z][a-z .]*)$`)
)

// Rules is a regular-expression extractor for the terse command forms
// people type on a phone.
type Rules struct {
	Now func() time.Time
}

// NewRules creates a rule extractor using the wall clock.
func NewRules() *Rules {
	return &Rules{Now: time.Now}
}

func (r *Rules) Extract(ctx context.Context, text string, hint cil.Type) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil, nil
	}

	typ, body := matchKeyword(text)
	if typ == "" {
		if hint == "" {
			return nil, nil
		}
		typ, body = hint, text
	}

	now := r.Now()
	c := &Candidate{Type: typ, Fields: map[string]any{}}
	switch typ {
	case cil.LogExpense, cil.LogRevenue:
		r.transaction(c, body, now)
	case cil.LogTime:
		r.timeEntry(c, body, now)
	case cil.CreateJob:
		setText(c, "name", body)
	case cil.CreateLead:
		lead(c, body)
	case cil.CreateQuote:
		quote(c, body)
	case cil.CreateAgreement:
		agreement(c, body)
	case cil.CreateInvoice:
		invoice(c, body, now)
	case cil.CreateChangeOrder:
		changeOrder(c, body)
	case cil.AddPricingItem, cil.UpdatePricingItem, cil.DeletePricingItem:
		pricing(c, body)
	}
	return c, nil
}

func matchKeyword(text string) (cil.Type, string) {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if lower == k.phrase {
			return k.typ, ""
		}
		if strings.HasPrefix(lower, k.phrase+" ") || strings.HasPrefix(lower, k.phrase+":") {
			rest := strings.TrimSpace(text[len(k.phrase)+1:])
			return k.typ, rest
		}
	}
	return "", text
}

func setText(c *Candidate, key, v string) {
	if v = strings.Trim(strings.TrimSpace(v), ",.;:"); v != "" {
		c.Fields[key] = v
	}
}

// takeDate removes a date phrase and records it, defaulting to today.
func takeDate(c *Candidate, key, body string, now time.Time) string {
	if m := isoDateRe.FindStringSubmatchIndex(body); m != nil {
		c.Fields[key] = body[m[2]:m[3]]
		return strings.TrimSpace(body[:m[0]] + " " + body[m[1]:])
	}
	if date, rest, ok := timeparsing.FindDate(body, now); ok {
		c.Fields[key] = date
		return rest
	}
	c.Fields[key] = now.Format(timeparsing.DateLayout)
	return body
}

// takeJob removes a trailing "for <job>" / "on job <job>".
func takeJob(c *Candidate, body string) string {
	if m := jobTailRe.FindStringSubmatch(body); m != nil {
		setText(c, "job", m[2])
		return m[1]
	}
	return body
}

// takeMoney removes the first (or last) standalone amount and records it in
// cents.
func takeMoney(c *Candidate, key, body string, last bool) string {
	all := moneyRe.FindAllStringSubmatchIndex(body, -1)
	if len(all) == 0 {
		return body
	}
	m := all[0]
	if last {
		m = all[len(all)-1]
	}
	cents, ok := parseCents(body[m[2]:m[3]], groupOrEmpty(body, m, 4))
	if !ok {
		return body
	}
	c.Fields[key] = cents
	return strings.TrimSpace(body[:m[0]] + " " + body[m[1]:])
}

func groupOrEmpty(s string, m []int, g int) string {
	if m[g] < 0 {
		return ""
	}
	return s[m[g]:m[g+1]]
}

// parseCents converts "1,234" and "56" to 123456 without floating point.
// Amounts that do not fit in int64 cents are rejected.
func parseCents(whole, frac string) (int64, bool) {
	n, err := strconv.ParseInt(strings.ReplaceAll(whole, ",", ""), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	var f int64
	if frac != "" {
		if len(frac) > 2 {
			return 0, false
		}
		if f, err = strconv.ParseInt(frac, 10, 64); err != nil || f < 0 {
			return 0, false
		}
		if len(frac) == 1 {
			f *= 10
		}
	}
	if n > (math.MaxInt64-f)/100 {
		return 0, false
	}
	return n*100 + f, true
}

// ParseAmount parses a standalone decimal amount such as "4.25", "$1,250" or
// "39.9" into cents.
func ParseAmount(s string) (int64, error) {
	m := amountRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents, ok := parseCents(m[1], m[2])
	if !ok {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return cents, nil
}

func (r *Rules) transaction(c *Candidate, body string, now time.Time) {
	body = takeDate(c, "date", body, now)
	body = takeJob(c, body)
	if m := fromRe.FindStringSubmatch(body); m != nil {
		if c.Type == cil.LogExpense {
			setText(c, "store", m[2])
		} else {
			setText(c, "payer", m[2])
		}
		body = m[1]
	}
	body = takeMoney(c, "amount_cents", body, false)
	if c.Type == cil.LogExpense {
		setText(c, "item", body)
		return
	}
	if strings.TrimSpace(body) == "" {
		body = "payment"
	}
	setText(c, "description", body)
}

func (r *Rules) timeEntry(c *Candidate, body string, now time.Time) {
	body = takeDate(c, "date", body, now)
	body = takeJob(c, body)
	if m := durationRe.FindStringSubmatchIndex(body); m != nil {
		if mins, err := timeparsing.ParseMinutes(body[m[2]:m[3]]); err == nil {
			c.Fields["minutes"] = mins
			body = strings.TrimSpace(body[:m[0]] + " " + body[m[1]:])
		}
	}
	setText(c, "employee", body)
}

func lead(c *Candidate, body string) {
	if loc := phoneRe.FindStringIndex(body); loc != nil {
		setText(c, "name", body[:loc[0]])
		setText(c, "phone", body[loc[0]:loc[1]])
		setText(c, "notes", body[loc[1]:])
		return
	}
	setText(c, "name", body)
}

func quote(c *Candidate, body string) {
	body = takeJob(c, body)
	body = takeMoney(c, "total_cents", body, false)
	setText(c, "title", body)
}

func agreement(c *Candidate, body string) {
	if m := signedByRe.FindStringSubmatch(body); m != nil {
		setText(c, "signed_by", m[2])
		body = m[1]
	}
	setText(c, "quote", stripFor(body))
}

func invoice(c *Candidate, body string, now time.Time) {
	if m := dueRe.FindStringSubmatch(body); m != nil {
		if date, err := timeparsing.ParseDate(m[2], now); err == nil {
			c.Fields["due_date"] = date
			body = m[1]
		}
	}
	body = takeMoney(c, "amount_cents", body, false)
	setText(c, "quote", stripFor(body))
}

func changeOrder(c *Candidate, body string) {
	body = takeJob(c, body)
	body = takeMoney(c, "amount_cents", body, false)
	setText(c, "description", body)
}

func pricing(c *Candidate, body string) {
	if c.Type == cil.DeletePricingItem {
		setText(c, "name", body)
		return
	}
	if m := perUnitRe.FindStringSubmatch(body); m != nil {
		setText(c, "unit", m[2])
		body = m[1]
	}
	body = takeMoney(c, "unit_cost_cents", body, true)
	setText(c, "name", body)
}

func stripFor(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 4 && strings.EqualFold(s[:4], "for ") {
		return strings.TrimSpace(s[4:])
	}
	return s
}
