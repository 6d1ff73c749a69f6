// Package audit is the duplicate-detection ledger: one row per consumed
// (tenant, idempotency key).
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// Backend stores audit rows.
type Backend interface {
	GetAudit(ctx context.Context, ownerID, key string) (*types.AuditRecord, error)
	RecordAudit(ctx context.Context, rec *types.AuditRecord) (bool, error)
}

// Ledger checks and records consumed keys.
type Ledger struct {
	backend Backend
	log     *zap.Logger
}

// New creates a Ledger.
func New(backend Backend, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{backend: backend, log: log}
}

// EnsureNotDuplicate returns storage.ErrConflict when key was already
// consumed for tenant. It is advisory; the writer's transactional claim is
// what makes a write exactly-once.
func (l *Ledger) EnsureNotDuplicate(ctx context.Context, tenant, key string) error {
	_, err := l.backend.GetAudit(ctx, tenant, key)
	switch {
	case err == nil:
		return fmt.Errorf("idempotency key %q already used: %w", key, storage.ErrConflict)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check audit: %w", err)
	}
}

// Record stores the action for key. Recording a key twice is not an error;
// the first record wins.
func (l *Ledger) Record(ctx context.Context, tenant, key, action string, details any) error {
	doc, err := EncodeDetails(details)
	if err != nil {
		return err
	}
	inserted, err := l.backend.RecordAudit(ctx, &types.AuditRecord{
		OwnerID: tenant,
		Key:     key,
		Action:  action,
		Details: doc,
	})
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	if !inserted {
		l.log.Debug("audit key already recorded",
			zap.String("tenant", tenant), zap.String("idempotency_key", key), zap.String("action", action))
	}
	return nil
}

// Lookup returns the record for key, or storage.ErrNotFound.
func (l *Ledger) Lookup(ctx context.Context, tenant, key string) (*types.AuditRecord, error) {
	return l.backend.GetAudit(ctx, tenant, key)
}

// EncodeDetails marshals details to the JSON stored in the record. Strings
// and byte slices that already hold JSON are stored as-is.
func EncodeDetails(details any) (string, error) {
	switch d := details.(type) {
	case nil:
		return "{}", nil
	case string:
		if json.Valid([]byte(d)) {
			return d, nil
		}
	case []byte:
		if json.Valid(d) {
			return string(d), nil
		}
	case json.RawMessage:
		return string(d), nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("encode audit details: %w", err)
	}
	return string(b), nil
}
