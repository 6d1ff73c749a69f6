package pending

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
)

// Backend persists raw state documents.
type Backend interface {
	GetPending(ctx context.Context, identity string) ([]byte, error)
	PutPending(ctx context.Context, identity string, doc []byte) error
	DeletePending(ctx context.Context, identity string) error
	PrunePending(ctx context.Context, before time.Time) (int64, error)
}

// Store reads and writes pending states. Callers serialize access per
// identity through the lock manager, so read-merge-write is safe.
type Store struct {
	backend Backend
	log     *zap.Logger
	now     func() time.Time
}

// New wraps a backend.
func New(backend Backend, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, log: log, now: time.Now}
}

// SetOption adjusts Set.
type SetOption func(*setOptions)

type setOptions struct {
	merge bool
	unset []string
}

// Merge overlays the patch on the stored document instead of replacing it.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// Unset removes top-level keys (e.g. "picker") after merging.
func Unset(keys ...string) SetOption {
	return func(o *setOptions) { o.unset = append(o.unset, keys...) }
}

// Get returns the identity's state, or nil when there is none. A stored
// document that no longer decodes is treated as absent and logged.
func (s *Store) Get(ctx context.Context, identity string) (*State, error) {
	doc, err := s.backend.GetPending(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending state: %w", err)
	}
	st, err := decode(doc)
	if err != nil {
		s.log.Warn("discarding undecodable pending state", zap.String("identity", identity), zap.Error(err))
		return nil, nil
	}
	return st, nil
}

// Set writes patch for identity. With Merge, top-level keys present in the
// patch replace stored ones and all other stored keys are kept. The result
// must be a valid State.
func (s *Store) Set(ctx context.Context, identity string, patch *State, opts ...SetOption) (*State, error) {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}

	patch.Updated = s.now().UTC()
	patchDoc, err := toMap(patch)
	if err != nil {
		return nil, err
	}

	merged := patchDoc
	if o.merge {
		existing, err := s.backend.GetPending(ctx, identity)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("get pending state: %w", err)
		default:
			merged, err = mergeDocs(existing, patchDoc)
			if err != nil {
				s.log.Warn("replacing undecodable pending state", zap.String("identity", identity), zap.Error(err))
				merged = patchDoc
			}
		}
	}
	for _, k := range o.unset {
		delete(merged, k)
	}

	doc, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode pending state: %w", err)
	}
	st, err := decode(doc)
	if err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pending state: %w", err)
	}
	if err := s.backend.PutPending(ctx, identity, doc); err != nil {
		return nil, fmt.Errorf("put pending state: %w", err)
	}
	return st, nil
}

// Delete removes the identity's state. Missing state is not an error.
func (s *Store) Delete(ctx context.Context, identity string) error {
	if err := s.backend.DeletePending(ctx, identity); err != nil {
		return fmt.Errorf("delete pending state: %w", err)
	}
	return nil
}

// Prune removes states untouched for longer than olderThan.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.backend.PrunePending(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune pending states: %w", err)
	}
	return n, nil
}

func toMap(st *State) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode pending state: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode pending state: %w", err)
	}
	return m, nil
}

func mergeDocs(existing []byte, patch map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	var base map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, err
	}
	if base == nil {
		base = make(map[string]json.RawMessage, len(patch))
	}
	for k, v := range patch {
		base[k] = v
	}
	return base, nil
}

// decode keeps draft numbers as json.Number so amounts survive round trips
// exactly.
func decode(doc []byte) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var st State
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("decode pending state: %w", err)
	}
	return &st, nil
}
