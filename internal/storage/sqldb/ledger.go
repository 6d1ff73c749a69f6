package sqldb

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

const txColumns = `id, owner_id, kind, date, description, amount_cents, source, COALESCE(job_id, ''),
	job_name, category, user_name, source_msg_id, media_url, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*types.Transaction, error) {
	var t types.Transaction
	var kind string
	if err := row.Scan(&t.ID, &t.OwnerID, &kind, &t.Date, &t.Description, &t.AmountCents, &t.Source, &t.JobID,
		&t.JobName, &t.Category, &t.UserName, &t.SourceMsgID, &t.MediaURL, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Kind = types.TxKind(kind)
	return &t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertTransaction inserts an expense or revenue row unless one with the
// same (owner, kind, source_msg_id) exists. It reports whether a row was
// written.
func (t *txStore) InsertTransaction(ctx context.Context, tr *types.Transaction) (bool, error) {
	if err := tr.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = t.now()
	}
	res, err := t.exec(ctx, `
		INSERT INTO transactions (id, owner_id, kind, date, description, amount_cents, source, job_id,
			job_name, category, user_name, source_msg_id, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		tr.ID, tr.OwnerID, string(tr.Kind), tr.Date, tr.Description, tr.AmountCents, tr.Source, nullable(tr.JobID),
		tr.JobName, tr.Category, tr.UserName, tr.SourceMsgID, tr.MediaURL, tr.CreatedAt)
	if err != nil {
		return false, wrapDBError("insert transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError("insert transaction", err)
	}
	return n == 1, nil
}

// GetTransactionBySource returns the row written for a source message.
func (t *txStore) GetTransactionBySource(ctx context.Context, ownerID string, kind types.TxKind, sourceMsgID string) (*types.Transaction, error) {
	row := t.conn.QueryRowContext(ctx, t.dialect.rebind(`SELECT `+txColumns+` FROM transactions
		WHERE owner_id = ? AND kind = ? AND source_msg_id = ?`), ownerID, string(kind), sourceMsgID)
	tr, err := scanTransaction(row)
	return tr, wrapDBError("get transaction by source", err)
}

// ListTransactions returns all of an owner's transactions, oldest first.
func (s *Store) ListTransactions(ctx context.Context, ownerID string) ([]*types.Transaction, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.queryContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, wrapDBError("list transactions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapDBError("scan transaction", err)
		}
		out = append(out, tr)
	}
	return out, wrapDBError("list transactions", rows.Err())
}

// InsertTimeEntry inserts a time entry unless (owner, source_msg_id) exists.
func (t *txStore) InsertTimeEntry(ctx context.Context, e *types.TimeEntry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	res, err := t.exec(ctx, `
		INSERT INTO time_entries (id, owner_id, job_id, employee, minutes, date, memo, source_msg_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		e.ID, e.OwnerID, e.JobID, e.Employee, e.Minutes, e.Date, e.Memo, e.SourceMsgID, e.CreatedAt)
	if err != nil {
		return false, wrapDBError("insert time entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError("insert time entry", err)
	}
	return n == 1, nil
}

// GetTimeEntryBySource returns the time entry written for a source message.
func (t *txStore) GetTimeEntryBySource(ctx context.Context, ownerID, sourceMsgID string) (*types.TimeEntry, error) {
	var e types.TimeEntry
	err := t.conn.QueryRowContext(ctx, t.dialect.rebind(`
		SELECT id, owner_id, job_id, employee, minutes, date, memo, source_msg_id, created_at
		FROM time_entries WHERE owner_id = ? AND source_msg_id = ?`), ownerID, sourceMsgID).
		Scan(&e.ID, &e.OwnerID, &e.JobID, &e.Employee, &e.Minutes, &e.Date, &e.Memo, &e.SourceMsgID, &e.CreatedAt)
	if err != nil {
		return nil, wrapDBError("get time entry by source", err)
	}
	return &e, nil
}
