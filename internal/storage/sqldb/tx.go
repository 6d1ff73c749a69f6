package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
)

// Verify txStore implements storage.Transaction at compile time
var _ storage.Transaction = (*txStore)(nil)

// querier is satisfied by *sql.DB and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txStore implements storage.Transaction on a dedicated connection with an
// open transaction.
type txStore struct {
	conn    *sql.Conn
	dialect dialect
	now     func() time.Time
}

// RunInTransaction executes fn within a database transaction.
//
// SQLite transactions use BEGIN IMMEDIATE to take the write lock up front.
// If fn returns an error or panics the transaction is rolled back; a panic is
// re-raised after rollback.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire connection for transaction", err)
	}
	defer func() { _ = conn.Close() }()

	begin := "BEGIN"
	if s.dialect == dialectSQLite {
		begin = "BEGIN IMMEDIATE"
	}
	if err := s.beginWithRetry(ctx, conn, begin); err != nil {
		return wrapDBError("begin transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is done
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	tx := &txStore{conn: conn, dialect: s.dialect, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

func (s *Store) beginWithRetry(ctx context.Context, conn *sql.Conn, stmt string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, stmt)
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s: %w", stmt, err))
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (t *txStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, t.dialect.rebind(query), args...)
}
