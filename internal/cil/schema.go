package cil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// FieldKind is the value shape a field must have.
type FieldKind int

const (
	Text          FieldKind = iota
	Ref                     // an id or a name
	Money                   // integer minor units, >= 0
	PositiveMoney           // integer minor units, > 0
	PositiveInt
	Date // YYYY-MM-DD
)

// Field describes one typed field of a variant.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	Example  string
}

// Schema describes a variant.
type Schema struct {
	Type   Type
	Action string // audit action recorded on success
	Fields []Field
	// Example is a message that produces a valid command of this type.
	Example string
	// JobRef marks variants whose "job" field names a job that may be
	// picked from a numbered list.
	JobRef bool
	// CreatesJob lets an unknown job name create a draft job.
	CreatesJob bool

	new func() Command
}

var schemas = map[Type]*Schema{
	LogExpense: {
		Action:  "expense.logged",
		Example: "expense 84.12 nails from Home Depot for Oak St re-roof",
		JobRef:  true,
		Fields: []Field{
			{Name: "job", Kind: Ref, Required: true, Example: "Oak St re-roof"},
			{Name: "job_id", Kind: Ref},
			{Name: "item", Kind: Text, Required: true, Example: "nails"},
			{Name: "amount_cents", Kind: PositiveMoney, Required: true, Example: "8412"},
			{Name: "store", Kind: Text, Example: "Home Depot"},
			{Name: "date", Kind: Date, Required: true, Example: "2025-03-12"},
			{Name: "category", Kind: Text, Example: "Materials"},
		},
		new: func() Command { return &Expense{} },
	},
	LogRevenue: {
		Action:  "revenue.logged",
		Example: "revenue 2500 deposit from Smith for Oak St re-roof",
		JobRef:  true,
		Fields: []Field{
			{Name: "job", Kind: Ref, Required: true, Example: "Oak St re-roof"},
			{Name: "job_id", Kind: Ref},
			{Name: "description", Kind: Text, Required: true, Example: "deposit"},
			{Name: "amount_cents", Kind: PositiveMoney, Required: true, Example: "250000"},
			{Name: "payer", Kind: Text, Example: "Smith"},
			{Name: "date", Kind: Date, Required: true, Example: "2025-03-12"},
			{Name: "category", Kind: Text, Example: "Deposits"},
		},
		new: func() Command { return &Revenue{} },
	},
	LogTime: {
		Action:  "time.logged",
		Example: "time 3h Dave on Oak St re-roof",
		JobRef:  true,
		Fields: []Field{
			{Name: "job", Kind: Ref, Required: true, Example: "Oak St re-roof"},
			{Name: "job_id", Kind: Ref},
			{Name: "employee", Kind: Text, Required: true, Example: "Dave"},
			{Name: "minutes", Kind: PositiveInt, Required: true, Example: "180"},
			{Name: "date", Kind: Date, Required: true, Example: "2025-03-12"},
			{Name: "memo", Kind: Text, Example: "tear-off"},
		},
		new: func() Command { return &Time{} },
	},
	CreateJob: {
		Action:  "job.created",
		Example: "new job Oak St re-roof",
		Fields: []Field{
			{Name: "name", Kind: Text, Required: true, Example: "Oak St re-roof"},
			{Name: "address", Kind: Text, Example: "12 Oak St"},
		},
		new: func() Command { return &Job{} },
	},
	CreateLead: {
		Action:  "lead.created",
		Example: "lead Jane Smith 555-0100 wants a deck",
		Fields: []Field{
			{Name: "name", Kind: Text, Required: true, Example: "Jane Smith"},
			{Name: "phone", Kind: Text, Example: "555-0100"},
			{Name: "notes", Kind: Text, Example: "wants a deck"},
		},
		new: func() Command { return &Lead{} },
	},
	CreateQuote: {
		Action:     "quote.created",
		Example:    "quote 12000 Deck build for Smith Deck",
		JobRef:     true,
		CreatesJob: true,
		Fields: []Field{
			{Name: "job", Kind: Ref, Required: true, Example: "Smith Deck"},
			{Name: "job_id", Kind: Ref},
			{Name: "title", Kind: Text, Required: true, Example: "Deck build"},
			{Name: "customer", Kind: Text, Example: "Jane Smith"},
			{Name: "total_cents", Kind: Money, Required: true, Example: "1200000"},
		},
		new: func() Command { return &Quote{} },
	},
	CreateAgreement: {
		Action:  "agreement.created",
		Example: "agreement for Deck build signed by Jane Smith",
		Fields: []Field{
			{Name: "quote", Kind: Ref, Required: true, Example: "Deck build"},
			{Name: "title", Kind: Text, Example: "Deck build agreement"},
			{Name: "signed_by", Kind: Text, Example: "Jane Smith"},
		},
		new: func() Command { return &Agreement{} },
	},
	CreateInvoice: {
		Action:  "invoice.created",
		Example: "invoice 6000 for Deck build due 2025-04-01",
		Fields: []Field{
			{Name: "quote", Kind: Ref, Required: true, Example: "Deck build"},
			{Name: "amount_cents", Kind: PositiveMoney, Required: true, Example: "600000"},
			{Name: "due_date", Kind: Date, Example: "2025-04-01"},
		},
		new: func() Command { return &Invoice{} },
	},
	CreateChangeOrder: {
		Action:  "change_order.created",
		Example: "change order 450 extra railing for Smith Deck",
		JobRef:  true,
		Fields: []Field{
			{Name: "job", Kind: Ref, Required: true, Example: "Smith Deck"},
			{Name: "job_id", Kind: Ref},
			{Name: "description", Kind: Text, Required: true, Example: "extra railing"},
			{Name: "amount_cents", Kind: PositiveMoney, Required: true, Example: "45000"},
		},
		new: func() Command { return &ChangeOrder{} },
	},
	AddPricingItem: {
		Action:  "pricing.added",
		Example: "add price 2x4 stud 4.25 per each",
		Fields: []Field{
			{Name: "name", Kind: Text, Required: true, Example: "2x4 stud"},
			{Name: "unit", Kind: Text, Example: "each"},
			{Name: "unit_cost_cents", Kind: Money, Required: true, Example: "425"},
			{Name: "category", Kind: Text, Example: "Lumber"},
		},
		new: func() Command { return &PricingItem{} },
	},
	UpdatePricingItem: {
		Action:  "pricing.updated",
		Example: "update price 2x4 stud 4.50",
		Fields: []Field{
			{Name: "name", Kind: Text, Required: true, Example: "2x4 stud"},
			{Name: "unit", Kind: Text, Example: "each"},
			{Name: "unit_cost_cents", Kind: Money, Required: true, Example: "450"},
			{Name: "category", Kind: Text, Example: "Lumber"},
		},
		new: func() Command { return &PricingItem{} },
	},
	DeletePricingItem: {
		Action:  "pricing.deleted",
		Example: "delete price 2x4 stud",
		Fields: []Field{
			{Name: "name", Kind: Text, Required: true, Example: "2x4 stud"},
		},
		new: func() Command { return &PricingItem{} },
	},
}

func init() {
	for t, s := range schemas {
		s.Type = t
	}
}

// Lookup returns the schema for t.
func Lookup(t Type) (*Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// Types lists every known command type in name order.
func Types() []Type {
	out := make([]Type, 0, len(schemas))
	for t := range schemas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks raw against its variant's schema and decodes it. Unknown
// fields are ignored. Failures are always a *ValidationError.
func Validate(raw []byte) (Command, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, &ValidationError{Problems: []Problem{{Field: "type", Problem: "command must be a JSON object"}}}
	}

	typeName, present, ok := text(doc["type"])
	if !present || !ok {
		return nil, &ValidationError{Problems: []Problem{{Field: "type", Problem: "is required", Missing: true}}}
	}
	s, known := schemas[Type(typeName)]
	if !known {
		return nil, &ValidationError{Type: Type(typeName), Problems: []Problem{{Field: "type", Problem: fmt.Sprintf("unknown command type %q", typeName)}}}
	}

	var problems []Problem
	if v, _, _ := text(doc["tenant_id"]); strings.TrimSpace(v) == "" {
		problems = append(problems, Problem{Field: "tenant_id", Problem: "is required", Missing: true})
	}
	key, _, _ := text(doc["idempotency_key"])
	msg, _, _ := text(doc["source_msg_id"])
	if key == "" && msg == "" {
		problems = append(problems, Problem{Field: "source_msg_id", Problem: "is required when idempotency_key is absent", Missing: true})
	}
	for _, f := range s.Fields {
		if p := checkField(f, doc[f.Name]); p != nil {
			problems = append(problems, *p)
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Type: s.Type, Problems: problems, Example: s.Example}
	}

	cmd := s.new()
	if err := json.Unmarshal(raw, cmd); err != nil {
		return nil, &ValidationError{Type: s.Type, Problems: []Problem{{Field: "type", Problem: err.Error()}}, Example: s.Example}
	}
	h := cmd.Envelope()
	h.Type = s.Type
	if h.IdempotencyKey == "" {
		h.IdempotencyKey = h.SourceMsgID
	}
	return cmd, nil
}

// text decodes a JSON string. present is false for a missing or null value.
func text(raw json.RawMessage) (v string, present, ok bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, true
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", true, false
	}
	return v, true, true
}

func checkField(f Field, raw json.RawMessage) *Problem {
	missing := &Problem{Field: f.Name, Problem: "is required", Example: f.Example, Missing: true}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if f.Required {
			return missing
		}
		return nil
	}

	switch f.Kind {
	case Text, Ref, Date:
		v, _, ok := text(raw)
		if !ok {
			return &Problem{Field: f.Name, Problem: "must be text", Example: f.Example}
		}
		if strings.TrimSpace(v) == "" {
			if f.Required {
				return missing
			}
			return nil
		}
		if f.Kind == Date && !types.ValidDate(v) {
			return &Problem{Field: f.Name, Problem: "must be a date like 2025-03-12", Example: f.Example}
		}
	case Money, PositiveMoney, PositiveInt:
		var n json.Number
		if raw[0] == '"' || json.Unmarshal(raw, &n) != nil {
			return &Problem{Field: f.Name, Problem: "must be a number", Example: f.Example}
		}
		i, err := n.Int64()
		if err != nil {
			if f.Kind == PositiveInt {
				return &Problem{Field: f.Name, Problem: "must be a whole number", Example: f.Example}
			}
			return &Problem{Field: f.Name, Problem: "must be a whole number of cents", Example: f.Example}
		}
		if f.Kind == Money && i < 0 {
			return &Problem{Field: f.Name, Problem: "must not be negative", Example: f.Example}
		}
		if f.Kind != Money && i <= 0 {
			return &Problem{Field: f.Name, Problem: "must be greater than zero", Example: f.Example}
		}
	}
	return nil
}
