package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
)

var refNow = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

func rules() *Rules {
	return &Rules{Now: func() time.Time { return refNow }}
}

func TestRulesExtract(t *testing.T) {
	tests := []struct {
		text string
		typ  cil.Type
		want map[string]any
	}{
		{
			"expense 84.12 nails from Home Depot",
			cil.LogExpense,
			map[string]any{"amount_cents": int64(8412), "item": "nails", "store": "Home Depot", "date": "2025-03-12"},
		},
		{
			"Spent $1,250 lumber at Lowes for Oak St re-roof 2025-03-10",
			cil.LogExpense,
			map[string]any{"amount_cents": int64(125000), "item": "lumber", "store": "Lowes", "job": "Oak St re-roof", "date": "2025-03-10"},
		},
		{
			"expense 40.5 gas yesterday",
			cil.LogExpense,
			map[string]any{"amount_cents": int64(4050), "item": "gas", "date": "2025-03-11"},
		},
		{
			"revenue 2500 deposit from Smith for Oak St re-roof",
			cil.LogRevenue,
			map[string]any{"amount_cents": int64(250000), "description": "deposit", "payer": "Smith", "job": "Oak St re-roof", "date": "2025-03-12"},
		},
		{
			"payment 300",
			cil.LogRevenue,
			map[string]any{"amount_cents": int64(30000), "description": "payment", "date": "2025-03-12"},
		},
		{
			"time 3h Dave on Oak St re-roof",
			cil.LogTime,
			map[string]any{"minutes": 180, "employee": "Dave", "job": "Oak St re-roof", "date": "2025-03-12"},
		},
		{
			"new job Oak St re-roof",
			cil.CreateJob,
			map[string]any{"name": "Oak St re-roof"},
		},
		{
			"lead Jane Smith 555-0100 wants a deck",
			cil.CreateLead,
			map[string]any{"name": "Jane Smith", "phone": "555-0100", "notes": "wants a deck"},
		},
		{
			"quote 12000 Deck build for Smith Deck",
			cil.CreateQuote,
			map[string]any{"total_cents": int64(1200000), "title": "Deck build", "job": "Smith Deck"},
		},
		{
			"agreement for Deck build signed by Jane Smith",
			cil.CreateAgreement,
			map[string]any{"quote": "Deck build", "signed_by": "Jane Smith"},
		},
		{
			"invoice 6000 for Deck build due 2025-04-01",
			cil.CreateInvoice,
			map[string]any{"amount_cents": int64(600000), "quote": "Deck build", "due_date": "2025-04-01"},
		},
		{
			"change order 450 extra railing for Smith Deck",
			cil.CreateChangeOrder,
			map[string]any{"amount_cents": int64(45000), "description": "extra railing", "job": "Smith Deck"},
		},
		{
			"add price 2x4 stud 4.25 per each",
			cil.AddPricingItem,
			map[string]any{"name": "2x4 stud", "unit_cost_cents": int64(425), "unit": "each"},
		},
		{
			"update price 2x4 stud 4.50",
			cil.UpdatePricingItem,
			map[string]any{"name": "2x4 stud", "unit_cost_cents": int64(450)},
		},
		{
			"delete price 2x4 stud",
			cil.DeletePricingItem,
			map[string]any{"name": "2x4 stud"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c, err := rules().Extract(context.Background(), tt.text, "")
			require.NoError(t, err)
			require.NotNil(t, c)
			assert.Equal(t, tt.typ, c.Type)
			assert.Equal(t, tt.want, c.Fields)
		})
	}
}

func TestRulesUnrecognized(t *testing.T) {
	for _, text := range []string{"", "   ", "hello there", "what can you do?"} {
		c, err := rules().Extract(context.Background(), text, "")
		assert.NoError(t, err)
		assert.Nil(t, c, text)
	}
}

func TestRulesHint(t *testing.T) {
	c, err := rules().Extract(context.Background(), "84.12 nails from Home Depot", cil.LogExpense)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, cil.LogExpense, c.Type)
	assert.Equal(t, int64(8412), c.Fields["amount_cents"])

	// An explicit keyword beats the hint.
	c, err = rules().Extract(context.Background(), "lead Jane", cil.LogExpense)
	require.NoError(t, err)
	assert.Equal(t, cil.CreateLead, c.Type)
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		whole, frac string
		want        int64
	}{
		{"84", "12", 8412},
		{"40", "5", 4050},
		{"1,250", "", 125000},
		{"0", "07", 7},
	}
	for _, tt := range tests {
		got, ok := parseCents(tt.whole, tt.frac)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, tt.whole+"."+tt.frac)
	}

	got, ok := parseCents("92233720368547757", "99")
	assert.True(t, ok)
	assert.Equal(t, int64(9223372036854775799), got)

	for _, whole := range []string{"92233720368547759", "99999999999999999999", "1,000,000,000,000,000,000"} {
		_, ok := parseCents(whole, "")
		assert.False(t, ok, whole)
	}
	_, ok = parseCents("1", "123")
	assert.False(t, ok)
}

func TestOverlongAmountIsNotExtracted(t *testing.T) {
	c, err := rules().Extract(context.Background(), "expense 92233720368547759 nails", "")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, cil.LogExpense, c.Type)
	assert.NotContains(t, c.Fields, "amount_cents")
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"4.25", 425},
		{"39.99", 3999},
		{"39.9", 3990},
		{"$1,250", 125000},
		{" 7 ", 700},
		{"0.07", 7},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "-1", "4.255", "1e3", "abc", "92233720368547759"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}
}

type stubExtractor struct {
	c   *Candidate
	err error
}

func (s stubExtractor) Extract(context.Context, string, cil.Type) (*Candidate, error) {
	return s.c, s.err
}

func TestFallback(t *testing.T) {
	want := &Candidate{Type: cil.CreateLead, Fields: map[string]any{"name": "Jane"}}
	f := &Fallback{Primary: stubExtractor{err: ErrTemporary}, Secondary: stubExtractor{c: want}}
	got, err := f.Extract(context.Background(), "lead Jane", "")
	require.NoError(t, err)
	assert.Same(t, want, got)

	f = &Fallback{Primary: stubExtractor{}, Secondary: stubExtractor{c: want}}
	got, err = f.Extract(context.Background(), "lead Jane", "")
	require.NoError(t, err)
	assert.Same(t, want, got)
}
