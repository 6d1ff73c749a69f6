package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

func TestKeywordSuggester(t *testing.T) {
	k := NewKeywordSuggester(map[string][]string{
		"Materials": {"nails", "lumber", "2x4"},
		"Fuel":      {"gas", "diesel"},
	})
	ctx := context.Background()

	tests := []struct {
		fields map[string]string
		want   string
	}{
		{map[string]string{"item": "Nails"}, "Materials"},
		{map[string]string{"item": "2x4 studs"}, "Materials"},
		{map[string]string{"item": "diesel", "store": "Shell"}, "Fuel"},
		{map[string]string{"item": "gasket"}, ""}, // whole words only
		{map[string]string{"description": "deposit"}, ""},
	}
	for _, tt := range tests {
		got, err := k.SuggestCategory(ctx, types.KindExpense, tt.fields)
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.fields)
	}

	k.Update(map[string][]string{"Hardware": {"nails"}})
	got, _ := k.SuggestCategory(ctx, types.KindExpense, map[string]string{"item": "nails"})
	assert.Equal(t, "Hardware", got)
}

func TestAliasNormalizer(t *testing.T) {
	n := NewAliasNormalizer(map[string]string{"hd": "Home Depot", "home depot": "Home Depot"})
	ctx := context.Background()

	for in, want := range map[string]string{
		"HD":                "Home Depot",
		"the  home   depot": "Home Depot",
		" Lowes ":           "Lowes",
	} {
		got, err := n.NormalizeVendor(ctx, in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

type stuckSuggester struct{}

func (stuckSuggester) SuggestCategory(context.Context, types.TxKind, map[string]string) (string, error) {
	time.Sleep(time.Second)
	return "late", nil
}

type failing struct{}

func (failing) SuggestCategory(context.Context, types.TxKind, map[string]string) (string, error) {
	return "", errors.New("model offline")
}

func (failing) NormalizeVendor(context.Context, string) (string, error) {
	panic("bad alias table")
}

func TestFailOpen(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	start := time.Now()
	assert.Equal(t, "", SuggestCategory(ctx, stuckSuggester{}, 20*time.Millisecond, log, types.KindExpense, nil))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, "", SuggestCategory(ctx, failing{}, time.Second, log, types.KindExpense, nil))
	assert.Equal(t, "", SuggestCategory(ctx, nil, time.Second, log, types.KindExpense, nil))

	assert.Equal(t, "Home Depot", NormalizeVendor(ctx, failing{}, time.Second, log, "Home Depot"))
	assert.Equal(t, "hd", NormalizeVendor(ctx, Noop{}, time.Second, log, "hd"))
	assert.Equal(t, "", NormalizeVendor(ctx, failing{}, time.Second, log, ""))
}
