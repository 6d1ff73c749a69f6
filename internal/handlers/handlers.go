// Package handlers holds the one canonical handler per command type.
//
// A handler resolves its references and runs enrichment before the write
// transaction opens, then hands a single mutation to the idempotent writer.
// Nothing inside a mutation touches the store outside its transaction.
package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/enrich"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/idem"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/resolver"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// Reader is the non-transactional lookup the handlers need.
type Reader interface {
	GetJob(ctx context.Context, ownerID, id string) (*types.Job, error)
}

// Deps wires the handlers.
type Deps struct {
	Reader     Reader
	Writer     *idem.Writer
	Resolver   *resolver.Resolver
	Suggester  enrich.CategorySuggester
	Normalizer enrich.VendorNormalizer
	// EnrichTimeout bounds each enrichment call.
	EnrichTimeout time.Duration
	Logger        *zap.Logger
}

// Handlers implements every command type.
type Handlers struct {
	reader     Reader
	writer     *idem.Writer
	resolver   *resolver.Resolver
	suggester  enrich.CategorySuggester
	normalizer enrich.VendorNormalizer
	timeout    time.Duration
	log        *zap.Logger
}

// New creates the handler set. Nil collaborators become no-ops.
func New(d Deps) *Handlers {
	h := &Handlers{
		reader:     d.Reader,
		writer:     d.Writer,
		resolver:   d.Resolver,
		suggester:  d.Suggester,
		normalizer: d.Normalizer,
		timeout:    d.EnrichTimeout,
		log:        d.Logger,
	}
	if h.suggester == nil {
		h.suggester = enrich.Noop{}
	}
	if h.normalizer == nil {
		h.normalizer = enrich.Noop{}
	}
	if h.timeout <= 0 {
		h.timeout = time.Second
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

// Table is the router's dispatch table.
func (h *Handlers) Table() map[cil.Type]cil.Handler {
	return map[cil.Type]cil.Handler{
		cil.LogExpense:        h.logExpense,
		cil.LogRevenue:        h.logRevenue,
		cil.LogTime:           h.logTime,
		cil.CreateJob:         h.createJob,
		cil.CreateLead:        h.createLead,
		cil.CreateQuote:       h.createQuote,
		cil.CreateAgreement:   h.createAgreement,
		cil.CreateInvoice:     h.createInvoice,
		cil.CreateChangeOrder: h.createChangeOrder,
		cil.AddPricingItem:    h.addPricingItem,
		cil.UpdatePricingItem: h.updatePricingItem,
		cil.DeletePricingItem: h.deletePricingItem,
	}
}

// job resolves a job from an explicit id (set by a picker) or a reference.
func (h *Handlers) job(ctx context.Context, tenant, id, ref string, allowCreate bool) (*types.Entity, error) {
	if id != "" {
		j, err := h.reader.GetJob(ctx, tenant, id)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
		return j.Entity(), nil
	}
	return h.resolver.Resolve(ctx, tenant, types.EntityJob, ref, resolver.Options{AllowCreate: allowCreate})
}

func (h *Handlers) write(ctx context.Context, c cil.Context, t cil.Type, details any, m idem.Mutation) (idem.Outcome, string, error) {
	s, _ := cil.Lookup(t)
	out, err := h.writer.Write(ctx, idem.Request{
		TenantID: c.TenantID,
		Key:      c.IdempotencyKey,
		Action:   s.Action,
		Details:  details,
		Mutation: m,
	})
	return out, s.Action, err
}

func result(action string, out idem.Outcome, summary string) *cil.Result {
	return &cil.Result{Action: action, Inserted: out.Inserted, Summary: summary, Row: out.Row}
}

func firstMedia(media []types.Media) string {
	if len(media) == 0 {
		return ""
	}
	return media[0].URL
}
