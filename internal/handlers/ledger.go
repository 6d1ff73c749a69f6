package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/enrich"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/idem"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

func insertTransaction(tr *types.Transaction) idem.Native {
	return func(ctx context.Context, tx storage.Transaction) (any, bool, error) {
		inserted, err := tx.InsertTransaction(ctx, tr)
		if err != nil || inserted {
			return tr, inserted, err
		}
		existing, err := tx.GetTransactionBySource(ctx, tr.OwnerID, tr.Kind, tr.SourceMsgID)
		if errors.Is(err, storage.ErrNotFound) {
			// The conflict was on another constraint; nothing was written.
			return nil, false, fmt.Errorf("insert transaction: %w", storage.ErrConflict)
		}
		return existing, false, err
	}
}

func (h *Handlers) logExpense(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	e := cmd.(*cil.Expense)
	job, err := h.job(ctx, c.TenantID, e.JobID, e.Job, false)
	if err != nil {
		return nil, err
	}

	vendor := enrich.NormalizeVendor(ctx, h.normalizer, h.timeout, h.log, e.Store)
	category := e.Category
	if category == "" {
		category = enrich.SuggestCategory(ctx, h.suggester, h.timeout, h.log, types.KindExpense,
			map[string]string{"item": e.Item, "store": vendor})
	}

	tr := &types.Transaction{
		OwnerID:     c.TenantID,
		Kind:        types.KindExpense,
		Date:        e.Date,
		Description: e.Item,
		AmountCents: e.AmountCents,
		Source:      vendor,
		JobID:       job.ID,
		JobName:     job.Name,
		Category:    category,
		UserName:    c.UserName,
		SourceMsgID: c.IdempotencyKey,
		MediaURL:    firstMedia(c.Media),
	}
	out, action, err := h.write(ctx, c, cil.LogExpense, tr, insertTransaction(tr))
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Logged expense %s for %s", cil.FormatCents(tr.AmountCents), tr.Description)
	if vendor != "" {
		summary += " from " + vendor
	}
	summary += " on " + job.Label()
	if category != "" {
		summary += " [" + category + "]"
	}
	return result(action, out, summary), nil
}

// logRevenue records income. The payer is optional.
func (h *Handlers) logRevenue(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	r := cmd.(*cil.Revenue)
	job, err := h.job(ctx, c.TenantID, r.JobID, r.Job, false)
	if err != nil {
		return nil, err
	}

	payer := enrich.NormalizeVendor(ctx, h.normalizer, h.timeout, h.log, r.Payer)
	category := r.Category
	if category == "" {
		category = enrich.SuggestCategory(ctx, h.suggester, h.timeout, h.log, types.KindRevenue,
			map[string]string{"description": r.Description, "payer": payer})
	}

	tr := &types.Transaction{
		OwnerID:     c.TenantID,
		Kind:        types.KindRevenue,
		Date:        r.Date,
		Description: r.Description,
		AmountCents: r.AmountCents,
		Source:      payer,
		JobID:       job.ID,
		JobName:     job.Name,
		Category:    category,
		UserName:    c.UserName,
		SourceMsgID: c.IdempotencyKey,
		MediaURL:    firstMedia(c.Media),
	}
	out, action, err := h.write(ctx, c, cil.LogRevenue, tr, insertTransaction(tr))
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Logged revenue %s for %s", cil.FormatCents(tr.AmountCents), tr.Description)
	if payer != "" {
		summary += " from " + payer
	}
	return result(action, out, summary+" on "+job.Label()), nil
}

func (h *Handlers) logTime(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	t := cmd.(*cil.Time)
	job, err := h.job(ctx, c.TenantID, t.JobID, t.Job, false)
	if err != nil {
		return nil, err
	}

	entry := &types.TimeEntry{
		OwnerID:     c.TenantID,
		JobID:       job.ID,
		Employee:    t.Employee,
		Minutes:     t.Minutes,
		Date:        t.Date,
		Memo:        t.Memo,
		SourceMsgID: c.IdempotencyKey,
	}
	out, action, err := h.write(ctx, c, cil.LogTime, entry, idem.Native(func(ctx context.Context, tx storage.Transaction) (any, bool, error) {
		inserted, err := tx.InsertTimeEntry(ctx, entry)
		if err != nil || inserted {
			return entry, inserted, err
		}
		existing, err := tx.GetTimeEntryBySource(ctx, entry.OwnerID, entry.SourceMsgID)
		return existing, false, err
	}))
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Logged %s for %s on %s", cil.FormatMinutes(entry.Minutes), entry.Employee, job.Label())
	return result(action, out, summary), nil
}
