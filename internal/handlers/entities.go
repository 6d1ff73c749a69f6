package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/idem"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/resolver"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

func (h *Handlers) createJob(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	j := cmd.(*cil.Job)
	job := &types.Job{OwnerID: c.TenantID, Name: j.Name, Address: j.Address, Status: types.JobActive}
	out, action, err := h.write(ctx, c, cil.CreateJob, job, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		return job, tx.CreateJob(ctx, job)
	}))
	if err != nil {
		return nil, err
	}
	return result(action, out, "Created job "+job.Entity().Label()), nil
}

func (h *Handlers) createLead(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	l := cmd.(*cil.Lead)
	lead := &types.Lead{OwnerID: c.TenantID, Name: l.Name, Phone: l.Phone, Notes: l.Notes}
	out, action, err := h.write(ctx, c, cil.CreateLead, lead, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		return lead, tx.CreateLead(ctx, lead)
	}))
	if err != nil {
		return nil, err
	}
	return result(action, out, "Saved lead "+lead.Name), nil
}

// createQuote books a quote against a job, creating a draft job for a new
// name.
func (h *Handlers) createQuote(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	q := cmd.(*cil.Quote)
	job, err := h.job(ctx, c.TenantID, q.JobID, q.Job, true)
	if err != nil {
		return nil, err
	}
	quote := &types.Quote{OwnerID: c.TenantID, JobID: job.ID, Title: q.Title, Customer: q.Customer, TotalCents: q.TotalCents}
	out, action, err := h.write(ctx, c, cil.CreateQuote, quote, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		return quote, tx.CreateQuote(ctx, quote)
	}))
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Created quote %q for %s on %s", quote.Title, cil.FormatCents(quote.TotalCents), job.Label())
	return result(action, out, summary), nil
}

func (h *Handlers) quote(ctx context.Context, tenant, ref string) (*types.Entity, error) {
	return h.resolver.Resolve(ctx, tenant, types.EntityQuote, ref, resolver.Options{})
}

// createAgreement accepts a quote. Void quotes and quotes that already have
// an agreement are conflicts.
func (h *Handlers) createAgreement(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	a := cmd.(*cil.Agreement)
	qe, err := h.quote(ctx, c.TenantID, a.Quote)
	if err != nil {
		return nil, err
	}

	agreement := &types.Agreement{OwnerID: c.TenantID, QuoteID: qe.ID, Title: a.Title, SignedBy: a.SignedBy}
	out, action, err := h.write(ctx, c, cil.CreateAgreement, agreement, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		q, err := tx.GetQuote(ctx, c.TenantID, qe.ID)
		if err != nil {
			return nil, err
		}
		if q.Status == types.QuoteVoid {
			return nil, fmt.Errorf("quote %q is void: %w", q.Title, storage.ErrConflict)
		}
		if _, err := tx.GetAgreementForQuote(ctx, c.TenantID, q.ID); err == nil {
			return nil, fmt.Errorf("quote %q already has an agreement: %w", q.Title, storage.ErrConflict)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		agreement.JobID = q.JobID
		if agreement.Title == "" {
			agreement.Title = q.Title
		}
		if err := tx.CreateAgreement(ctx, agreement); err != nil {
			return nil, err
		}
		return agreement, tx.SetQuoteStatus(ctx, c.TenantID, q.ID, types.QuoteAccepted)
	}))
	if err != nil {
		return nil, err
	}
	return result(action, out, fmt.Sprintf("Quote %q accepted", qe.Name)), nil
}

// createInvoice bills against an accepted quote.
func (h *Handlers) createInvoice(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	i := cmd.(*cil.Invoice)
	qe, err := h.quote(ctx, c.TenantID, i.Quote)
	if err != nil {
		return nil, err
	}

	inv := &types.Invoice{OwnerID: c.TenantID, AmountCents: i.AmountCents, DueDate: i.DueDate}
	out, action, err := h.write(ctx, c, cil.CreateInvoice, inv, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		a, err := tx.GetAgreementForQuote(ctx, c.TenantID, qe.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("quote %q not yet accepted: %w", qe.Name, storage.ErrConflict)
		}
		if err != nil {
			return nil, err
		}
		inv.AgreementID = a.ID
		inv.JobID = a.JobID
		return inv, tx.CreateInvoice(ctx, inv)
	}))
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Invoiced %s on quote %q", cil.FormatCents(inv.AmountCents), qe.Name)
	if inv.DueDate != "" {
		summary += ", due " + inv.DueDate
	}
	return result(action, out, summary), nil
}

func (h *Handlers) createChangeOrder(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	co := cmd.(*cil.ChangeOrder)
	job, err := h.job(ctx, c.TenantID, co.JobID, co.Job, false)
	if err != nil {
		return nil, err
	}
	row := &types.ChangeOrder{OwnerID: c.TenantID, JobID: job.ID, Description: co.Description, AmountCents: co.AmountCents}
	out, action, err := h.write(ctx, c, cil.CreateChangeOrder, row, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		return row, tx.CreateChangeOrder(ctx, row)
	}))
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Change order %s for %s on %s", cil.FormatCents(row.AmountCents), row.Description, job.Label())
	return result(action, out, summary), nil
}
