// Package idem commits domain mutations exactly once per (tenant, key).
//
// A native mutation owns a unique (owner_id, source_msg_id) column and
// reports whether its conditional insert won. A guarded mutation has no
// such column; the writer first claims the audit key in the same
// transaction, and only the claimant runs the mutation. Either way the
// audit row and the domain row commit or roll back together.
package idem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/audit"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/telemetry"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// TxRunner opens store transactions.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error
}

// Mutation is one domain write.
type Mutation interface {
	Native() bool
	// Apply runs inside the write transaction. inserted is only consulted
	// for native mutations.
	Apply(ctx context.Context, tx storage.Transaction) (row any, inserted bool, err error)
}

// Guarded adapts a function with no natural unique key.
type Guarded func(ctx context.Context, tx storage.Transaction) (any, error)

func (Guarded) Native() bool { return false }

func (g Guarded) Apply(ctx context.Context, tx storage.Transaction) (any, bool, error) {
	row, err := g(ctx, tx)
	return row, err == nil, err
}

// Native adapts a conditional insert that reports whether it won.
type Native func(ctx context.Context, tx storage.Transaction) (any, bool, error)

func (Native) Native() bool { return true }

func (n Native) Apply(ctx context.Context, tx storage.Transaction) (any, bool, error) {
	return n(ctx, tx)
}

// Request describes one write.
type Request struct {
	TenantID string
	Key      string
	Action   string
	Details  any
	Mutation Mutation
}

// Outcome reports what happened. Inserted is false for a duplicate, in
// which case Row may be the existing row or nil.
type Outcome struct {
	Inserted bool
	Row      any
}

// Options configures a Writer.
type Options struct {
	// Timeout bounds a write. Writes are detached from the caller's
	// cancellation, so this is the only bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Writer is the idempotent writer.
type Writer struct {
	store  TxRunner
	ledger *audit.Ledger
	opts   Options
	log    *zap.Logger

	tel    *telemetry.Instruments
	writes metric.Int64Counter
}

// errClaimed rolls back a native insert whose audit key was taken by a
// different command.
var errClaimed = errors.New("audit key already claimed")

// New creates a Writer. ledger may be nil.
func New(store TxRunner, ledger *audit.Ledger, opts Options) *Writer {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		store:  store,
		ledger: ledger,
		opts:   opts,
		log:    log,
		tel:    telemetry.NewInstruments("writer"),
		writes: telemetry.Counter("writer", "chief.writes", "Committed and duplicate writes"),
	}
}

// Write commits req.Mutation at most once for (TenantID, Key). A deadline
// is reported as storage.ErrTimeout: the write may have committed.
func (w *Writer) Write(ctx context.Context, req Request) (out Outcome, err error) {
	if req.TenantID == "" || req.Key == "" {
		return Outcome{}, fmt.Errorf("write requires tenant and idempotency key")
	}
	if req.Mutation == nil {
		return Outcome{}, fmt.Errorf("write %s: no mutation", req.Action)
	}
	details, err := audit.EncodeDetails(req.Details)
	if err != nil {
		return Outcome{}, err
	}

	// Once issued, a write is not abandoned because the caller went away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.Timeout)
	defer cancel()

	attrs := []attribute.KeyValue{
		attribute.String("chief.action", req.Action),
		attribute.Bool("chief.native", req.Mutation.Native()),
	}
	ctx, span, start := w.tel.Start(ctx, "idem.write", attrs...)
	defer func() {
		w.tel.End(ctx, span, start, err, attribute.Bool("chief.inserted", out.Inserted))
		if err == nil {
			w.tel.Count(ctx, w.writes, attribute.Bool("inserted", out.Inserted))
		}
	}()

	if w.ledger != nil && !req.Mutation.Native() {
		if err := w.ledger.EnsureNotDuplicate(ctx, req.TenantID, req.Key); errors.Is(err, storage.ErrConflict) {
			w.logDuplicate(req)
			return Outcome{}, nil
		}
	}

	err = w.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		rec := &types.AuditRecord{OwnerID: req.TenantID, Key: req.Key, Action: req.Action, Details: details}

		if !req.Mutation.Native() {
			claimed, err := tx.ClaimAuditKey(ctx, rec)
			if err != nil || !claimed {
				return err
			}
			row, _, err := req.Mutation.Apply(ctx, tx)
			if err != nil {
				return err
			}
			out = Outcome{Inserted: true, Row: row}
			return nil
		}

		row, inserted, err := req.Mutation.Apply(ctx, tx)
		if err != nil {
			return err
		}
		out.Row = row
		if !inserted {
			return nil
		}
		claimed, err := tx.ClaimAuditKey(ctx, rec)
		if err != nil {
			return err
		}
		if !claimed {
			return errClaimed
		}
		out.Inserted = true
		return nil
	})

	switch {
	case errors.Is(err, errClaimed):
		out, err = Outcome{}, nil
	case err != nil:
		out = Outcome{}
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && !errors.Is(err, storage.ErrTimeout)) {
			err = fmt.Errorf("%s: %w", req.Action, storage.ErrTimeout)
		}
		w.log.Warn("write failed",
			zap.String("tenant", req.TenantID),
			zap.String("idempotency_key", req.Key),
			zap.String("action", req.Action),
			zap.Error(err))
		return out, err
	}

	if !out.Inserted {
		w.logDuplicate(req)
		if req.Mutation.Native() && w.ledger != nil && out.Row != nil {
			// Rows written before their audit entry existed still get one.
			if rerr := w.ledger.Record(ctx, req.TenantID, req.Key, req.Action, details); rerr != nil {
				w.log.Warn("backfill audit failed", zap.String("idempotency_key", req.Key), zap.Error(rerr))
			}
		}
		return out, nil
	}

	w.log.Info("write committed",
		zap.String("tenant", req.TenantID),
		zap.String("idempotency_key", req.Key),
		zap.String("action", req.Action))
	return out, nil
}

func (w *Writer) logDuplicate(req Request) {
	w.log.Info("duplicate write skipped",
		zap.String("tenant", req.TenantID),
		zap.String("idempotency_key", req.Key),
		zap.String("action", req.Action))
}
