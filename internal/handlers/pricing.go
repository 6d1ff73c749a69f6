package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/idem"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

func pricingItem(tenant string, p *cil.PricingItem) *types.PricingItem {
	return &types.PricingItem{OwnerID: tenant, Name: p.Name, Unit: p.Unit, UnitCostCents: p.UnitCostCents, Category: p.Category}
}

func (h *Handlers) addPricingItem(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	item := pricingItem(c.TenantID, cmd.(*cil.PricingItem))
	out, action, err := h.write(ctx, c, cil.AddPricingItem, item, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		_, err := tx.GetPricingItem(ctx, item.OwnerID, item.Name)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%q is already on the price list: %w", item.Name, storage.ErrConflict)
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
		return item, tx.InsertPricingItem(ctx, item)
	}))
	if err != nil {
		return nil, err
	}
	return result(action, out, fmt.Sprintf("Added %q at %s", item.Name, cil.FormatCents(item.UnitCostCents))), nil
}

func (h *Handlers) updatePricingItem(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	item := pricingItem(c.TenantID, cmd.(*cil.PricingItem))
	out, action, err := h.write(ctx, c, cil.UpdatePricingItem, item, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		if err := tx.UpdatePricingItem(ctx, item); err != nil {
			return nil, err
		}
		return tx.GetPricingItem(ctx, item.OwnerID, item.Name)
	}))
	if err != nil {
		return nil, err
	}
	return result(action, out, fmt.Sprintf("Updated %q to %s", item.Name, cil.FormatCents(item.UnitCostCents))), nil
}

func (h *Handlers) deletePricingItem(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
	p := cmd.(*cil.PricingItem)
	out, action, err := h.write(ctx, c, cil.DeletePricingItem, map[string]string{"name": p.Name}, idem.Guarded(func(ctx context.Context, tx storage.Transaction) (any, error) {
		return nil, tx.DeletePricingItem(ctx, c.TenantID, p.Name)
	}))
	if err != nil {
		return nil, err
	}
	return result(action, out, fmt.Sprintf("Removed %q from the price list", p.Name)), nil
}
