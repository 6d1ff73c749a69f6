package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

const (
	quoteColumns     = `id, owner_id, job_id, title, customer, total_cents, status, created_at`
	agreementColumns = `id, owner_id, quote_id, job_id, title, signed_by, created_at`
	pricingColumns   = `id, owner_id, name, unit, unit_cost_cents, category, updated_at`
)

type scanner interface{ Scan(...any) error }

func scanQuote(row scanner) (*types.Quote, error) {
	var q types.Quote
	var status string
	if err := row.Scan(&q.ID, &q.OwnerID, &q.JobID, &q.Title, &q.Customer, &q.TotalCents, &status, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.Status = types.QuoteStatus(status)
	return &q, nil
}

func scanAgreement(row scanner) (*types.Agreement, error) {
	var a types.Agreement
	if err := row.Scan(&a.ID, &a.OwnerID, &a.QuoteID, &a.JobID, &a.Title, &a.SignedBy, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPricingItem(row scanner) (*types.PricingItem, error) {
	var p types.PricingItem
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Unit, &p.UnitCostCents, &p.Category, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func getQuote(ctx context.Context, q querier, d dialect, ownerID, id string) (*types.Quote, error) {
	return scanQuote(q.QueryRowContext(ctx, d.rebind(`SELECT `+quoteColumns+` FROM quotes WHERE owner_id = ? AND id = ?`), ownerID, id))
}

func getPricingItem(ctx context.Context, q querier, d dialect, ownerID, name string) (*types.PricingItem, error) {
	return scanPricingItem(q.QueryRowContext(ctx, d.rebind(`SELECT `+pricingColumns+` FROM pricing_items
		WHERE owner_id = ? AND lower(name) = lower(?)`), ownerID, strings.TrimSpace(name)))
}

// GetQuote returns a quote by id.
func (s *Store) GetQuote(ctx context.Context, ownerID, id string) (*types.Quote, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var q *types.Quote
	err := s.withRetry(ctx, func() error {
		var err error
		q, err = getQuote(ctx, s.db, s.dialect, ownerID, id)
		return err
	})
	return q, wrapDBError("get quote", err)
}

// FindQuotesByTitle matches quote titles case-insensitively, oldest first.
func (s *Store) FindQuotesByTitle(ctx context.Context, ownerID, title string) ([]*types.Quote, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.queryContext(ctx, `SELECT `+quoteColumns+` FROM quotes
		WHERE owner_id = ? AND lower(title) = lower(?) ORDER BY created_at`, ownerID, title)
	if err != nil {
		return nil, wrapDBError("find quotes", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, wrapDBError("scan quote", err)
		}
		out = append(out, q)
	}
	return out, wrapDBError("find quotes", rows.Err())
}

// GetAgreement returns an agreement by id.
func (s *Store) GetAgreement(ctx context.Context, ownerID, id string) (*types.Agreement, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var a *types.Agreement
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var err error
		a, err = scanAgreement(row)
		return err
	}, `SELECT `+agreementColumns+` FROM agreements WHERE owner_id = ? AND id = ?`, ownerID, id)
	return a, wrapDBError("get agreement", err)
}

// FindAgreementsByTitle matches agreement titles case-insensitively.
func (s *Store) FindAgreementsByTitle(ctx context.Context, ownerID, title string) ([]*types.Agreement, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.queryContext(ctx, `SELECT `+agreementColumns+` FROM agreements
		WHERE owner_id = ? AND lower(title) = lower(?) ORDER BY created_at`, ownerID, title)
	if err != nil {
		return nil, wrapDBError("find agreements", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, wrapDBError("scan agreement", err)
		}
		out = append(out, a)
	}
	return out, wrapDBError("find agreements", rows.Err())
}

// GetPricingItem returns a catalog item by case-insensitive name.
func (s *Store) GetPricingItem(ctx context.Context, ownerID, name string) (*types.PricingItem, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var p *types.PricingItem
	err := s.withRetry(ctx, func() error {
		var err error
		p, err = getPricingItem(ctx, s.db, s.dialect, ownerID, name)
		return err
	})
	return p, wrapDBError("get pricing item", err)
}

func (t *txStore) GetQuote(ctx context.Context, ownerID, id string) (*types.Quote, error) {
	q, err := getQuote(ctx, t.conn, t.dialect, ownerID, id)
	return q, wrapDBError("get quote", err)
}

func (t *txStore) GetPricingItem(ctx context.Context, ownerID, name string) (*types.PricingItem, error) {
	p, err := getPricingItem(ctx, t.conn, t.dialect, ownerID, name)
	return p, wrapDBError("get pricing item", err)
}

// GetAgreementForQuote returns the agreement signed for a quote.
func (t *txStore) GetAgreementForQuote(ctx context.Context, ownerID, quoteID string) (*types.Agreement, error) {
	a, err := scanAgreement(t.conn.QueryRowContext(ctx, t.dialect.rebind(`SELECT `+agreementColumns+` FROM agreements
		WHERE owner_id = ? AND quote_id = ?`), ownerID, quoteID))
	return a, wrapDBError("get agreement for quote", err)
}

func (t *txStore) CreateLead(ctx context.Context, l *types.Lead) error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("validation failed: lead name is required")
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = t.now()
	_, err := t.exec(ctx, `INSERT INTO leads (id, owner_id, name, phone, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.OwnerID, l.Name, l.Phone, l.Notes, l.CreatedAt)
	return wrapDBError("create lead", err)
}

func (t *txStore) CreateQuote(ctx context.Context, q *types.Quote) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Status == "" {
		q.Status = types.QuoteDraft
	}
	q.CreatedAt = t.now()
	_, err := t.exec(ctx, `INSERT INTO quotes (id, owner_id, job_id, title, customer, total_cents, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.OwnerID, q.JobID, q.Title, q.Customer, q.TotalCents, string(q.Status), q.CreatedAt)
	return wrapDBError("create quote", err)
}

// SetQuoteStatus changes a quote's status.
func (t *txStore) SetQuoteStatus(ctx context.Context, ownerID, id string, status types.QuoteStatus) error {
	res, err := t.exec(ctx, `UPDATE quotes SET status = ? WHERE owner_id = ? AND id = ?`, string(status), ownerID, id)
	if err != nil {
		return wrapDBError("set quote status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set quote status %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (t *txStore) CreateAgreement(ctx context.Context, a *types.Agreement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = t.now()
	_, err := t.exec(ctx, `INSERT INTO agreements (id, owner_id, quote_id, job_id, title, signed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.QuoteID, a.JobID, a.Title, a.SignedBy, a.CreatedAt)
	return wrapDBError("create agreement", err)
}

func (t *txStore) CreateInvoice(ctx context.Context, inv *types.Invoice) error {
	if inv.AmountCents <= 0 {
		return fmt.Errorf("validation failed: amount_cents must be positive")
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = t.now()
	_, err := t.exec(ctx, `INSERT INTO invoices (id, owner_id, agreement_id, job_id, amount_cents, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.OwnerID, inv.AgreementID, inv.JobID, inv.AmountCents, inv.DueDate, inv.CreatedAt)
	return wrapDBError("create invoice", err)
}

func (t *txStore) CreateChangeOrder(ctx context.Context, co *types.ChangeOrder) error {
	if co.AmountCents <= 0 {
		return fmt.Errorf("validation failed: amount_cents must be positive")
	}
	if co.ID == "" {
		co.ID = uuid.NewString()
	}
	co.CreatedAt = t.now()
	_, err := t.exec(ctx, `INSERT INTO change_orders (id, owner_id, job_id, description, amount_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		co.ID, co.OwnerID, co.JobID, co.Description, co.AmountCents, co.CreatedAt)
	return wrapDBError("create change order", err)
}

// InsertPricingItem adds a catalog item; an existing name is ErrConflict.
func (t *txStore) InsertPricingItem(ctx context.Context, item *types.PricingItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Name = strings.TrimSpace(item.Name)
	item.UpdatedAt = t.now()
	_, err := t.exec(ctx, `INSERT INTO pricing_items (id, owner_id, name, unit, unit_cost_cents, category, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OwnerID, item.Name, item.Unit, item.UnitCostCents, item.Category, item.UpdatedAt)
	return wrapDBError("insert pricing item", err)
}

// UpdatePricingItem changes cost, and unit or category when set.
func (t *txStore) UpdatePricingItem(ctx context.Context, item *types.PricingItem) error {
	item.UpdatedAt = t.now()
	res, err := t.exec(ctx, `UPDATE pricing_items
		SET unit_cost_cents = ?,
		    unit = CASE WHEN ? = '' THEN unit ELSE ? END,
		    category = CASE WHEN ? = '' THEN category ELSE ? END,
		    updated_at = ?
		WHERE owner_id = ? AND lower(name) = lower(?)`,
		item.UnitCostCents, item.Unit, item.Unit, item.Category, item.Category, item.UpdatedAt,
		item.OwnerID, strings.TrimSpace(item.Name))
	if err != nil {
		return wrapDBError("update pricing item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update pricing item %q: %w", item.Name, storage.ErrNotFound)
	}
	return nil
}

// DeletePricingItem removes a catalog item by name.
func (t *txStore) DeletePricingItem(ctx context.Context, ownerID, name string) error {
	res, err := t.exec(ctx, `DELETE FROM pricing_items WHERE owner_id = ? AND lower(name) = lower(?)`,
		ownerID, strings.TrimSpace(name))
	if err != nil {
		return wrapDBError("delete pricing item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete pricing item %q: %w", name, storage.ErrNotFound)
	}
	return nil
}
