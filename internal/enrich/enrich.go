// Package enrich holds the best-effort collaborators that decorate a
// transaction before it is written: a category suggester and a vendor-name
// normalizer. Neither may block or fail a write.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// CategorySuggester proposes a category for a transaction, or "".
type CategorySuggester interface {
	SuggestCategory(ctx context.Context, kind types.TxKind, fields map[string]string) (string, error)
}

// VendorNormalizer maps a free-text vendor to its canonical name.
type VendorNormalizer interface {
	NormalizeVendor(ctx context.Context, name string) (string, error)
}

// Noop implements both interfaces and changes nothing.
type Noop struct{}

func (Noop) SuggestCategory(context.Context, types.TxKind, map[string]string) (string, error) {
	return "", nil
}

func (Noop) NormalizeVendor(_ context.Context, name string) (string, error) {
	return name, nil
}

type rule struct {
	category string
	keywords []string
}

// KeywordSuggester picks the first category whose keyword appears in the
// item, description or vendor. Rules can be swapped while serving.
type KeywordSuggester struct {
	mu    sync.RWMutex
	rules []rule
}

// NewKeywordSuggester builds a suggester from category -> keywords.
func NewKeywordSuggester(rules map[string][]string) *KeywordSuggester {
	k := &KeywordSuggester{}
	k.Update(rules)
	return k
}

// Update replaces the rule set. Categories are tried in name order so the
// result does not depend on map iteration.
func (k *KeywordSuggester) Update(rules map[string][]string) {
	compiled := make([]rule, 0, len(rules))
	for cat, words := range rules {
		r := rule{category: cat}
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				r.keywords = append(r.keywords, w)
			}
		}
		if len(r.keywords) > 0 {
			compiled = append(compiled, r)
		}
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].category < compiled[j].category })

	k.mu.Lock()
	k.rules = compiled
	k.mu.Unlock()
}

func (k *KeywordSuggester) SuggestCategory(ctx context.Context, _ types.TxKind, fields map[string]string) (string, error) {
	var text strings.Builder
	for _, key := range []string{"item", "description", "store", "payer"} {
		text.WriteString(strings.ToLower(fields[key]))
		text.WriteByte(' ')
	}
	haystack := text.String()

	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, r := range k.rules {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for _, w := range r.keywords {
			if containsWord(haystack, w) {
				return r.category, nil
			}
		}
	}
	return "", nil
}

func containsWord(haystack, word string) bool {
	for i := 0; ; {
		j := strings.Index(haystack[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isWordByte(haystack[start-1])) && (end == len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z'
}

// AliasNormalizer rewrites known vendor spellings ("home depot", "hd",
// "the home depot") to one canonical name.
type AliasNormalizer struct {
	mu      sync.RWMutex
	aliases map[string]string
}

// NewAliasNormalizer builds a normalizer from alias -> canonical.
func NewAliasNormalizer(aliases map[string]string) *AliasNormalizer {
	a := &AliasNormalizer{}
	a.Update(aliases)
	return a
}

func (a *AliasNormalizer) Update(aliases map[string]string) {
	m := make(map[string]string, len(aliases))
	for alias, canonical := range aliases {
		m[foldVendor(alias)] = canonical
	}
	a.mu.Lock()
	a.aliases = m
	a.mu.Unlock()
}

func (a *AliasNormalizer) NormalizeVendor(_ context.Context, name string) (string, error) {
	a.mu.RLock()
	canonical, ok := a.aliases[foldVendor(name)]
	a.mu.RUnlock()
	if ok {
		return canonical, nil
	}
	return strings.TrimSpace(name), nil
}

func foldVendor(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimPrefix(s, "the ")
}

// SuggestCategory calls s within timeout. Any failure yields "" and a warn
// log; the caller proceeds without a category.
func SuggestCategory(ctx context.Context, s CategorySuggester, timeout time.Duration, log *zap.Logger, kind types.TxKind, fields map[string]string) string {
	if s == nil {
		return ""
	}
	cat, err := failOpen(ctx, timeout, func(ctx context.Context) (string, error) {
		return s.SuggestCategory(ctx, kind, fields)
	})
	if err != nil {
		log.Warn("category suggestion failed", zap.String("kind", string(kind)), zap.Error(err))
		return ""
	}
	return cat
}

// NormalizeVendor calls n within timeout. Any failure returns name unchanged.
func NormalizeVendor(ctx context.Context, n VendorNormalizer, timeout time.Duration, log *zap.Logger, name string) string {
	if n == nil || strings.TrimSpace(name) == "" {
		return name
	}
	out, err := failOpen(ctx, timeout, func(ctx context.Context) (string, error) {
		return n.NormalizeVendor(ctx, name)
	})
	if err != nil || out == "" {
		if err != nil {
			log.Warn("vendor normalization failed", zap.String("vendor", name), zap.Error(err))
		}
		return name
	}
	return out
}

// failOpen runs fn on its own goroutine so a collaborator that ignores its
// context still cannot hold the caller past timeout. Panics are errors.
func failOpen(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: &panicError{value: p}}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type panicError struct{ value any }

func (e *panicError) Error() string {
	return "collaborator panicked: " + fmt.Sprint(e.value)
}
