package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// GetPending returns the raw pending-state document for an identity, or
// storage.ErrNotFound.
func (s *Store) GetPending(ctx context.Context, identity string) ([]byte, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var doc string
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&doc)
	}, `SELECT `+s.dialect.jsonCol("state")+` FROM pending_state WHERE identity = ?`, identity)
	if err != nil {
		return nil, wrapDBError("get pending state", err)
	}
	return []byte(doc), nil
}

// PutPending upserts the pending-state document for an identity.
func (s *Store) PutPending(ctx context.Context, identity string, doc []byte) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.execContext(ctx, `
		INSERT INTO pending_state (identity, state, updated_at) VALUES (?, `+s.dialect.jsonArg()+`, ?)
		ON CONFLICT (identity) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		identity, string(doc), s.now())
	return wrapDBError("put pending state", err)
}

// DeletePending removes an identity's pending state. Deleting a missing
// state is not an error.
func (s *Store) DeletePending(ctx context.Context, identity string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.execContext(ctx, `DELETE FROM pending_state WHERE identity = ?`, identity)
	return wrapDBError("delete pending state", err)
}

// PrunePending deletes states not updated since before.
func (s *Store) PrunePending(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execContext(ctx, `DELETE FROM pending_state WHERE updated_at < ?`, before.UTC())
	if err != nil {
		return 0, wrapDBError("prune pending state", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("prune pending state", err)
}

// LookupUser maps an identity to its tenant.
func (s *Store) LookupUser(ctx context.Context, identity string) (*types.User, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var u types.User
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&u.Identity, &u.OwnerID, &u.UserName)
	}, `SELECT identity, owner_id, user_name FROM users WHERE identity = ?`, identity)
	if err != nil {
		return nil, wrapDBError("lookup user", err)
	}
	return &u, nil
}

// PutUser registers or updates an identity's tenant mapping.
func (s *Store) PutUser(ctx context.Context, u *types.User) error {
	if u.Identity == "" || u.OwnerID == "" {
		return fmt.Errorf("put user: identity and owner_id are required")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.execContext(ctx, `
		INSERT INTO users (identity, owner_id, user_name) VALUES (?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET owner_id = excluded.owner_id, user_name = excluded.user_name`,
		u.Identity, u.OwnerID, u.UserName)
	return wrapDBError("put user", err)
}

// TryLock claims the lock row for key. A row older than staleBefore is taken
// over. It reports whether token now holds the lock.
func (s *Store) TryLock(ctx context.Context, key, token string, staleBefore time.Time) (bool, error) {
	now := s.now()
	res, err := s.execContext(ctx, `INSERT INTO locks (key, token, acquired_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		key, token, now)
	if err != nil {
		return false, wrapDBError("acquire lock", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	res, err = s.execContext(ctx, `UPDATE locks SET token = ?, acquired_at = ? WHERE key = ? AND acquired_at < ?`,
		token, now, key, staleBefore.UTC())
	if err != nil {
		return false, wrapDBError("take over stale lock", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Unlock deletes the lock row if token still holds it.
func (s *Store) Unlock(ctx context.Context, key, token string) error {
	_, err := s.execContext(ctx, `DELETE FROM locks WHERE key = ? AND token = ?`, key, token)
	return wrapDBError("release lock", err)
}

// PruneLocks deletes lock rows acquired before the cutoff.
func (s *Store) PruneLocks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execContext(ctx, `DELETE FROM locks WHERE acquired_at < ?`, before.UTC())
	if err != nil {
		return 0, wrapDBError("prune locks", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("prune locks", err)
}

// GetAudit returns the audit record for (owner, key).
func (s *Store) GetAudit(ctx context.Context, ownerID, key string) (*types.AuditRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	rec, err := getAudit(ctx, s.db, s.dialect, ownerID, key)
	return rec, wrapDBError("get audit", err)
}

// RecordAudit inserts an audit record; false means the key was already
// consumed.
func (s *Store) RecordAudit(ctx context.Context, rec *types.AuditRecord) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	var inserted bool
	err := s.withRetry(ctx, func() error {
		var err error
		inserted, err = insertAudit(ctx, s.db, s.dialect, rec)
		return err
	})
	return inserted, wrapDBError("record audit", err)
}

// ClaimAuditKey inserts the audit row inside the transaction.
func (t *txStore) ClaimAuditKey(ctx context.Context, rec *types.AuditRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now()
	}
	inserted, err := insertAudit(ctx, t.conn, t.dialect, rec)
	return inserted, wrapDBError("claim audit key", err)
}

func insertAudit(ctx context.Context, q querier, d dialect, rec *types.AuditRecord) (bool, error) {
	if rec.OwnerID == "" || rec.Key == "" {
		return false, errors.New("audit record requires owner and key")
	}
	details := rec.Details
	if details == "" {
		details = "{}"
	}
	res, err := q.ExecContext(ctx, d.rebind(`
		INSERT INTO audit (owner_id, key, action, details, created_at) VALUES (?, ?, ?, `+d.jsonArg()+`, ?)
		ON CONFLICT DO NOTHING`), rec.OwnerID, rec.Key, rec.Action, details, rec.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func getAudit(ctx context.Context, q querier, d dialect, ownerID, key string) (*types.AuditRecord, error) {
	var rec types.AuditRecord
	err := q.QueryRowContext(ctx, d.rebind(`SELECT owner_id, key, action, `+d.jsonCol("details")+`, created_at
		FROM audit WHERE owner_id = ? AND key = ?`), ownerID, key).
		Scan(&rec.OwnerID, &rec.Key, &rec.Action, &rec.Details, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
