package cil

import (
	"fmt"
	"strings"
)

// FormatCents renders minor units as dollars, e.g. 8412 -> "$84.12".
func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}

// FormatMinutes renders 195 as "3h15m".
func FormatMinutes(m int) string {
	switch {
	case m < 60:
		return fmt.Sprintf("%dm", m)
	case m%60 == 0:
		return fmt.Sprintf("%dh", m/60)
	default:
		return fmt.Sprintf("%dh%02dm", m/60, m%60)
	}
}

// Describe renders a one-line summary used in confirmation prompts.
func Describe(cmd Command) string {
	switch c := cmd.(type) {
	case *Expense:
		s := fmt.Sprintf("Expense %s for %s", FormatCents(c.AmountCents), c.Item)
		if c.Store != "" {
			s += " from " + c.Store
		}
		return s + onJob(c.Job) + " on " + c.Date + withCategory(c.Category)
	case *Revenue:
		s := fmt.Sprintf("Revenue %s for %s", FormatCents(c.AmountCents), c.Description)
		if c.Payer != "" {
			s += " from " + c.Payer
		}
		return s + onJob(c.Job) + " on " + c.Date + withCategory(c.Category)
	case *Time:
		s := fmt.Sprintf("Time %s for %s", FormatMinutes(c.Minutes), c.Employee)
		return s + onJob(c.Job) + " on " + c.Date
	case *Job:
		return "New job " + c.Name
	case *Lead:
		s := "New lead " + c.Name
		if c.Phone != "" {
			s += " (" + c.Phone + ")"
		}
		return s
	case *Quote:
		return fmt.Sprintf("Quote %q for %s%s", c.Title, FormatCents(c.TotalCents), onJob(c.Job))
	case *Agreement:
		s := fmt.Sprintf("Agreement for quote %q", c.Quote)
		if c.SignedBy != "" {
			s += " signed by " + c.SignedBy
		}
		return s
	case *Invoice:
		s := fmt.Sprintf("Invoice %s for quote %q", FormatCents(c.AmountCents), c.Quote)
		if c.DueDate != "" {
			s += " due " + c.DueDate
		}
		return s
	case *ChangeOrder:
		return fmt.Sprintf("Change order %s for %s%s", FormatCents(c.AmountCents), c.Description, onJob(c.Job))
	case *PricingItem:
		switch c.Type {
		case DeletePricingItem:
			return fmt.Sprintf("Remove %q from the price list", c.Name)
		case UpdatePricingItem:
			return fmt.Sprintf("Update %q to %s%s", c.Name, FormatCents(c.UnitCostCents), perUnit(c.Unit))
		default:
			return fmt.Sprintf("Add %q at %s%s", c.Name, FormatCents(c.UnitCostCents), perUnit(c.Unit))
		}
	default:
		return fmt.Sprintf("%s command", cmd.Envelope().Type)
	}
}

func onJob(job string) string {
	if job == "" {
		return ""
	}
	return " (job " + job + ")"
}

func withCategory(c string) string {
	if c == "" {
		return ""
	}
	return " [" + c + "]"
}

func perUnit(u string) string {
	if u == "" {
		return ""
	}
	return " per " + strings.TrimSpace(u)
}

// Help lists an example message for every command type.
func Help() string {
	var b strings.Builder
	b.WriteString("I can log these. Try:\n")
	for _, t := range Types() {
		b.WriteString("- ")
		b.WriteString(schemas[t].Example)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
