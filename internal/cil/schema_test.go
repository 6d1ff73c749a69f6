package cil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateExpense(t *testing.T) {
	cmd, err := Validate([]byte(`{
		"type": "LogExpense", "tenant_id": "t1", "source_msg_id": "SM1",
		"job": "Oak St re-roof", "item": "nails", "amount_cents": 8412,
		"store": "Home Depot", "date": "2025-03-12", "unknown": {"x": 1}
	}`))
	require.NoError(t, err)

	exp, ok := cmd.(*Expense)
	require.True(t, ok)
	assert.Equal(t, LogExpense, exp.Type)
	assert.Equal(t, "SM1", exp.IdempotencyKey, "idempotency key defaults to source message id")
	assert.Equal(t, int64(8412), exp.AmountCents)
	assert.Equal(t, "Home Depot", exp.Store)
}

func TestValidateKeepsExplicitIdempotencyKey(t *testing.T) {
	cmd, err := Validate([]byte(`{"type":"CreateLead","tenant_id":"t1","idempotency_key":"k-1","name":"Jane"}`))
	require.NoError(t, err)
	assert.Equal(t, "k-1", cmd.Envelope().IdempotencyKey)
}

func TestValidateProblems(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantField string
		missing   bool
	}{
		{"not json", `nope`, "type", false},
		{"no type", `{"tenant_id":"t1"}`, "type", true},
		{"unknown type", `{"type":"LogMood","tenant_id":"t1","source_msg_id":"SM1"}`, "type", false},
		{"no tenant", `{"type":"CreateJob","source_msg_id":"SM1","name":"Roof"}`, "tenant_id", true},
		{"no key", `{"type":"CreateJob","tenant_id":"t1","name":"Roof"}`, "source_msg_id", true},
		{"float amount", `{"type":"LogExpense","tenant_id":"t1","source_msg_id":"SM1","job":"j","item":"nails","amount_cents":84.12,"date":"2025-03-12"}`, "amount_cents", false},
		{"string amount", `{"type":"LogExpense","tenant_id":"t1","source_msg_id":"SM1","job":"j","item":"nails","amount_cents":"8412","date":"2025-03-12"}`, "amount_cents", false},
		{"zero amount", `{"type":"LogExpense","tenant_id":"t1","source_msg_id":"SM1","job":"j","item":"nails","amount_cents":0,"date":"2025-03-12"}`, "amount_cents", false},
		{"bad date", `{"type":"LogExpense","tenant_id":"t1","source_msg_id":"SM1","job":"j","item":"nails","amount_cents":1,"date":"2025-02-30"}`, "date", false},
		{"blank item", `{"type":"LogExpense","tenant_id":"t1","source_msg_id":"SM1","job":"j","item":"  ","amount_cents":1,"date":"2025-03-12"}`, "item", true},
		{"negative quote total", `{"type":"CreateQuote","tenant_id":"t1","source_msg_id":"SM1","job":"j","title":"Deck","total_cents":-5}`, "total_cents", false},
		{"zero minutes", `{"type":"LogTime","tenant_id":"t1","source_msg_id":"SM1","job":"j","employee":"Dave","minutes":0,"date":"2025-03-12"}`, "minutes", false},
		{"numeric name", `{"type":"CreateJob","tenant_id":"t1","source_msg_id":"SM1","name":12}`, "name", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Validate([]byte(tt.raw))
			assert.Nil(t, cmd)
			ve, ok := AsValidation(err)
			require.True(t, ok, "want *ValidationError, got %v", err)
			require.True(t, ve.Has(tt.wantField), "problems: %+v", ve.Problems)
			for _, p := range ve.Problems {
				if p.Field == tt.wantField {
					assert.Equal(t, tt.missing, p.Missing)
				}
			}
		})
	}
}

func TestValidateZeroQuoteTotalIsAllowed(t *testing.T) {
	_, err := Validate([]byte(`{"type":"CreateQuote","tenant_id":"t1","source_msg_id":"SM1","job":"j","title":"Deck","total_cents":0}`))
	assert.NoError(t, err)
}

func TestOnlyMissingJob(t *testing.T) {
	_, err := Validate([]byte(`{"type":"LogExpense","tenant_id":"t1","source_msg_id":"SM1","item":"nails","amount_cents":8412,"date":"2025-03-12"}`))
	ve, ok := AsValidation(err)
	require.True(t, ok)
	assert.True(t, ve.OnlyMissing("job"))
	assert.Equal(t, schemas[LogExpense].Example, ve.Example)

	_, err = Validate([]byte(`{"type":"LogExpense","tenant_id":"t1","source_msg_id":"SM1","item":"nails","date":"2025-03-12"}`))
	ve, ok = AsValidation(err)
	require.True(t, ok)
	assert.False(t, ve.OnlyMissing("job"))
	assert.Contains(t, ve.Error(), "amount_cents is required")
}

func TestEverySchemaHasAnExampleAndAction(t *testing.T) {
	for _, typ := range Types() {
		s, ok := Lookup(typ)
		require.True(t, ok)
		assert.Equal(t, typ, s.Type)
		assert.NotEmpty(t, s.Example, typ)
		assert.NotEmpty(t, s.Action, typ)
		assert.NotNil(t, s.new, typ)
		if s.JobRef {
			assert.Equal(t, "job", s.Fields[0].Name, typ)
		}
	}
}

func TestDescribe(t *testing.T) {
	cmd, err := Validate([]byte(`{"type":"LogExpense","tenant_id":"t1","source_msg_id":"SM1","job":"#2 Deck","item":"nails","amount_cents":8412,"store":"Home Depot","date":"2025-03-12"}`))
	require.NoError(t, err)
	assert.Equal(t, "Expense $84.12 for nails from Home Depot (job #2 Deck) on 2025-03-12", Describe(cmd))

	assert.Equal(t, "$0.05", FormatCents(5))
	assert.Equal(t, "-$1.50", FormatCents(-150))
	assert.Equal(t, "3h15m", FormatMinutes(195))
	assert.Equal(t, "2h", FormatMinutes(120))
	assert.Equal(t, "45m", FormatMinutes(45))
}
