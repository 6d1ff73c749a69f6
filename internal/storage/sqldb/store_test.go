package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := Open(ctx, Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return store
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = ?`
	assert.Equal(t, q, dialectSQLite.rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2`, dialectPostgres.rebind(q))
	assert.Equal(t, `SELECT 1`, dialectPostgres.rebind(`SELECT 1`))
}

func TestSchemaStatements(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverPostgres} {
		schema, err := LoadSchema(driver)
		require.NoError(t, err)
		stmts := schemaStatements(schema)
		require.NotEmpty(t, stmts)
		for _, stmt := range stmts {
			assert.NotContains(t, stmt, ";", "statement should be split: %s", stmt)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
}

func TestCreateJobAssignsSequentialNumbersPerOwner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i, name := range []string{"Oak St re-roof", "Maple deck", "Pine fence"} {
		job := &types.Job{OwnerID: "owner-a", Name: name}
		require.NoError(t, store.CreateJob(ctx, job))
		assert.Equal(t, int64(i+1), job.JobNo)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, types.JobActive, job.Status)
	}

	other := &types.Job{OwnerID: "owner-b", Name: "Elm garage"}
	require.NoError(t, store.CreateJob(ctx, other))
	assert.Equal(t, int64(1), other.JobNo)

	got, err := store.GetJobByNumber(ctx, "owner-a", 2)
	require.NoError(t, err)
	assert.Equal(t, "Maple deck", got.Name)

	_, err = store.GetJobByNumber(ctx, "owner-b", 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Another owner's id is not visible.
	_, err = store.GetJob(ctx, "owner-b", got.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindJobsByNameIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateJob(ctx, &types.Job{OwnerID: "o", Name: "Oak St Re-Roof"}))

	jobs, err := store.FindJobsByName(ctx, "o", "oak st re-roof")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Oak St Re-Roof", jobs[0].Name)

	jobs, err = store.FindJobsByName(ctx, "o", "oak")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListOpenJobsPages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateJob(ctx, &types.Job{OwnerID: "o", Name: name}))
	}
	require.NoError(t, store.CreateJob(ctx, &types.Job{OwnerID: "o", Name: "done", Status: types.JobClosed}))

	page, err := store.ListOpenJobs(ctx, "o", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Name)

	page, err = store.ListOpenJobs(ctx, "o", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Name)
}

func TestInsertTransactionIsIdempotentPerKind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	newTx := func(kind types.TxKind) *types.Transaction {
		return &types.Transaction{
			OwnerID: "o", Kind: kind, Date: "2025-03-12", Description: "nails",
			AmountCents: 8412, Source: "Home Depot", SourceMsgID: "SM1",
		}
	}

	var first, second, revenue bool
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		if first, err = tx.InsertTransaction(ctx, newTx(types.KindExpense)); err != nil {
			return err
		}
		if second, err = tx.InsertTransaction(ctx, newTx(types.KindExpense)); err != nil {
			return err
		}
		revenue, err = tx.InsertTransaction(ctx, newTx(types.KindRevenue))
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, revenue)

	rows, err := store.ListTransactions(ctx, "o")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		claimed, err := tx.ClaimAuditKey(ctx, &types.AuditRecord{OwnerID: "o", Key: "k1", Action: "lead.create"})
		require.NoError(t, err)
		require.True(t, claimed)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetAudit(ctx, "o", "k1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The key is still claimable after rollback.
	ok, err := store.RecordAudit(ctx, &types.AuditRecord{OwnerID: "o", Key: "k1", Action: "lead.create"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.RecordAudit(ctx, &types.AuditRecord{OwnerID: "o", Key: "k1", Action: "lead.create"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunInTransactionPanicRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.Panics(t, func() {
		_ = store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			_, _ = tx.ClaimAuditKey(ctx, &types.AuditRecord{OwnerID: "o", Key: "p", Action: "x"})
			panic("handler bug")
		})
	})
	_, err := store.GetAudit(ctx, "o", "p")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPendingStateLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetPending(ctx, "+15550001111")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.PutPending(ctx, "+15550001111", []byte(`{"kind":"awaiting_confirmation"}`)))
	require.NoError(t, store.PutPending(ctx, "+15550001111", []byte(`{"kind":"awaiting_reference"}`)))
	doc, err := store.GetPending(ctx, "+15550001111")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"awaiting_reference"}`, string(doc))

	n, err := store.PrunePending(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.PrunePending(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.DeletePending(ctx, "+15550001111"))
}

func TestTryLock(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	past := time.Now().Add(-time.Minute)

	ok, err := store.TryLock(ctx, "+1555", "tok-a", past)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryLock(ctx, "+1555", "tok-b", past)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be granted")

	// A foreign token cannot release it.
	require.NoError(t, store.Unlock(ctx, "+1555", "tok-b"))
	ok, err = store.TryLock(ctx, "+1555", "tok-b", past)
	require.NoError(t, err)
	assert.False(t, ok)

	// Stale holders are taken over.
	ok, err = store.TryLock(ctx, "+1555", "tok-c", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Unlock(ctx, "+1555", "tok-c"))
	ok, err = store.TryLock(ctx, "+1555", "tok-d", past)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPricingItems(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	insert := func(name string) error {
		return store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			return tx.InsertPricingItem(ctx, &types.PricingItem{OwnerID: "o", Name: name, Unit: "bundle", UnitCostCents: 4500})
		})
	}
	require.NoError(t, insert("Shingles"))
	assert.ErrorIs(t, insert("shingles"), storage.ErrConflict)

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.UpdatePricingItem(ctx, &types.PricingItem{OwnerID: "o", Name: "SHINGLES", UnitCostCents: 4750})
	})
	require.NoError(t, err)

	item, err := store.GetPricingItem(ctx, "o", "shingles")
	require.NoError(t, err)
	assert.Equal(t, int64(4750), item.UnitCostCents)
	assert.Equal(t, "bundle", item.Unit)

	err = store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.DeletePricingItem(ctx, "o", "nails")
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQuoteAgreementFlow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	job := &types.Job{OwnerID: "o", Name: "Oak"}
	require.NoError(t, store.CreateJob(ctx, job))

	quote := &types.Quote{OwnerID: "o", JobID: job.ID, Title: "Roof", TotalCents: 1200000}
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateQuote(ctx, quote); err != nil {
			return err
		}
		if err := tx.CreateAgreement(ctx, &types.Agreement{OwnerID: "o", QuoteID: quote.ID, JobID: job.ID, Title: "Roof"}); err != nil {
			return err
		}
		return tx.SetQuoteStatus(ctx, "o", quote.ID, types.QuoteAccepted)
	})
	require.NoError(t, err)

	got, err := store.GetQuote(ctx, "o", quote.ID)
	require.NoError(t, err)
	assert.Equal(t, types.QuoteAccepted, got.Status)

	agreements, err := store.FindAgreementsByTitle(ctx, "o", "roof")
	require.NoError(t, err)
	require.Len(t, agreements, 1)
	assert.Equal(t, quote.ID, agreements[0].QuoteID)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.LookupUser(ctx, "+15550001111")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.PutUser(ctx, &types.User{Identity: "+15550001111", OwnerID: "owner-1", UserName: "Mike"}))
	u, err := store.LookupUser(ctx, "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", u.OwnerID)
	assert.Equal(t, "Mike", u.UserName)
}

func TestWrapDBError(t *testing.T) {
	assert.Nil(t, wrapDBError("op", nil))
	assert.ErrorIs(t, wrapDBError("op", errors.New("UNIQUE constraint failed: jobs.id")), storage.ErrConflict)
	assert.ErrorIs(t, wrapDBError("op", errors.New("dial tcp: connection refused")), storage.ErrUnavailable)
	assert.ErrorIs(t, wrapDBError("op", context.DeadlineExceeded), storage.ErrTimeout)

	locked := wrapDBError("op", errors.New("database is locked (5) (SQLITE_BUSY)"))
	assert.ErrorIs(t, locked, storage.ErrBusy)
	assert.NotErrorIs(t, locked, storage.ErrUnavailable)
	serial := wrapDBError("op", &pgconn.PgError{Code: "40001"})
	assert.ErrorIs(t, serial, storage.ErrBusy)
	assert.NotErrorIs(t, serial, storage.ErrUnavailable)
	assert.ErrorIs(t, wrapDBError("op", &pgconn.PgError{Code: "57P01"}), storage.ErrUnavailable)

	assert.True(t, isRetryableError(errors.New("database is locked")))
	assert.True(t, isRetryableError(errors.New("connection reset by peer")))
	assert.False(t, isRetryableError(errors.New("syntax error")))
}
