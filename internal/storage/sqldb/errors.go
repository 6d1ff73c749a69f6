package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
)

// wrapDBError wraps a database error with operation context.
// sql.ErrNoRows becomes storage.ErrNotFound, unique violations become
// storage.ErrConflict, lock contention becomes storage.ErrBusy and connection
// failures become storage.ErrUnavailable.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, storage.ErrTimeout)
	case isContention(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrBusy, err)
	case isConnectionFailure(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation checks for a unique constraint violation in either
// dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isRetryableError reports transient failures worth another attempt.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return isContention(err) || isConnectionFailure(err)
}

// isContention reports a live database refusing the operation because
// another writer holds what it needs.
func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "sqlite_busy")
}

// isConnectionFailure reports a database that could not be reached.
func isConnectionFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// admin_shutdown
		return pgErr.Code == "57P01"
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"driver: bad connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"i/o timeout",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second
	return bo
}

// withRetry executes an operation with retry for transient errors.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil && isRetryableError(err) {
			s.log.Debug("retrying transient database error", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newRetryBackoff(), ctx))
}
