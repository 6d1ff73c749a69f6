// Package storage provides the interfaces and sentinel errors shared by the
// ledger store and its consumers.
//
// The concrete implementation lives in the sqldb sub-package. Consumers
// (lock, pending, resolver, audit, idem, handlers) depend on the narrow
// interfaces they need; *sqldb.Store satisfies all of them.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on a unique violation or a state that forbids the
// operation (already consumed idempotency key, quote not accepted, ...).
var ErrConflict = errors.New("conflict")

// ErrBusy is returned when a lock could not be acquired before the lock timeout
// or the database stayed contended through its retries.
var ErrBusy = errors.New("busy")

// ErrUnavailable is returned when a backend cannot be reached.
var ErrUnavailable = errors.New("unavailable")

// ErrTimeout is returned when a write exceeded its deadline. The write may or
// may not have committed.
var ErrTimeout = errors.New("timeout: outcome unknown")

// Store is the full ledger store.
type Store interface {
	// Tenants
	LookupUser(ctx context.Context, identity string) (*types.User, error)
	PutUser(ctx context.Context, u *types.User) error

	// Entity reads
	GetJob(ctx context.Context, ownerID, id string) (*types.Job, error)
	GetJobByNumber(ctx context.Context, ownerID string, jobNo int64) (*types.Job, error)
	FindJobsByName(ctx context.Context, ownerID, name string) ([]*types.Job, error)
	ListOpenJobs(ctx context.Context, ownerID string, offset, limit int) ([]*types.Job, error)
	CreateJob(ctx context.Context, job *types.Job) error
	GetQuote(ctx context.Context, ownerID, id string) (*types.Quote, error)
	FindQuotesByTitle(ctx context.Context, ownerID, title string) ([]*types.Quote, error)
	GetAgreement(ctx context.Context, ownerID, id string) (*types.Agreement, error)
	FindAgreementsByTitle(ctx context.Context, ownerID, title string) ([]*types.Agreement, error)
	GetPricingItem(ctx context.Context, ownerID, name string) (*types.PricingItem, error)
	ListTransactions(ctx context.Context, ownerID string) ([]*types.Transaction, error)

	// Pending conversation state (raw JSON documents)
	GetPending(ctx context.Context, identity string) ([]byte, error)
	PutPending(ctx context.Context, identity string, doc []byte) error
	DeletePending(ctx context.Context, identity string) error
	PrunePending(ctx context.Context, before time.Time) (int64, error)

	// Audit
	GetAudit(ctx context.Context, ownerID, key string) (*types.AuditRecord, error)
	RecordAudit(ctx context.Context, rec *types.AuditRecord) (bool, error)

	// Locks
	TryLock(ctx context.Context, key, token string, staleBefore time.Time) (bool, error)
	Unlock(ctx context.Context, key, token string) error
	PruneLocks(ctx context.Context, before time.Time) (int64, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Migrate(ctx context.Context) error
	Close() error
}

// Transaction provides atomic multi-operation support within a single
// database transaction.
//
// The Transaction interface exposes the mutations the idempotent writer
// needs. All operations within a transaction share the same connection and
// see uncommitted changes made earlier in the same transaction.
//
// Example usage:
//
//	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
//	    claimed, err := tx.ClaimAuditKey(ctx, rec)
//	    if err != nil || !claimed {
//	        return err // nothing to do, or rollback
//	    }
//	    return tx.CreateLead(ctx, lead) // error triggers rollback
//	})
type Transaction interface {
	// ClaimAuditKey inserts the audit row and reports whether this caller
	// won the (owner, key) slot.
	ClaimAuditKey(ctx context.Context, rec *types.AuditRecord) (bool, error)

	// Native idempotency: report false when (owner, source_msg_id) exists.
	InsertTransaction(ctx context.Context, t *types.Transaction) (bool, error)
	GetTransactionBySource(ctx context.Context, ownerID string, kind types.TxKind, sourceMsgID string) (*types.Transaction, error)
	InsertTimeEntry(ctx context.Context, e *types.TimeEntry) (bool, error)
	GetTimeEntryBySource(ctx context.Context, ownerID, sourceMsgID string) (*types.TimeEntry, error)

	// Guarded mutations
	CreateJob(ctx context.Context, job *types.Job) error
	CreateLead(ctx context.Context, l *types.Lead) error
	CreateQuote(ctx context.Context, q *types.Quote) error
	SetQuoteStatus(ctx context.Context, ownerID, id string, status types.QuoteStatus) error
	CreateAgreement(ctx context.Context, a *types.Agreement) error
	CreateInvoice(ctx context.Context, inv *types.Invoice) error
	CreateChangeOrder(ctx context.Context, co *types.ChangeOrder) error
	InsertPricingItem(ctx context.Context, item *types.PricingItem) error
	UpdatePricingItem(ctx context.Context, item *types.PricingItem) error
	DeletePricingItem(ctx context.Context, ownerID, name string) error

	// Read-your-writes within the transaction
	GetJob(ctx context.Context, ownerID, id string) (*types.Job, error)
	GetQuote(ctx context.Context, ownerID, id string) (*types.Quote, error)
	GetAgreementForQuote(ctx context.Context, ownerID, quoteID string) (*types.Agreement, error)
	GetPricingItem(ctx context.Context, ownerID, name string) (*types.PricingItem, error)
}
