// Package extract turns free text into a candidate command: a CIL type and
// the fields the text supplied. Candidates are not validated here.
package extract

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
)

// Candidate is an unvalidated command.
type Candidate struct {
	Type   cil.Type
	Fields map[string]any
}

// Extractor recognizes commands. A nil Candidate with a nil error means the
// text is not a command. hint, when set, is the type the conversation
// expects, so "84.12 nails" can be read as an expense.
type Extractor interface {
	Extract(ctx context.Context, text string, hint cil.Type) (*Candidate, error)
}

// Fallback tries Primary and falls back to Secondary when Primary errors
// or does not recognize the text.
type Fallback struct {
	Primary   Extractor
	Secondary Extractor
	Log       *zap.Logger
}

func (f *Fallback) Extract(ctx context.Context, text string, hint cil.Type) (*Candidate, error) {
	c, err := f.Primary.Extract(ctx, text, hint)
	if err == nil && c != nil {
		return c, nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if f.Log != nil {
			f.Log.Warn("primary extractor failed, using fallback", zap.Error(err))
		}
	}
	return f.Secondary.Extract(ctx, text, hint)
}
