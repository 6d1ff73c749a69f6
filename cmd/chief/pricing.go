package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/extract"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
)

var (
	pricingTenant string
	pricingUpdate bool
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Manage a tenant's price list",
}

var pricingImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Load price list items from a YAML file",
	Long: `Load price list items from a YAML list:

  - name: 2x4 stud
    unit: each
    price: 4.25
    category: Lumber

Items go through the same command pipeline as text messages, keyed by file
and item name, so importing the same file twice adds nothing. Items already
on the list are skipped unless --update is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		items, err := loadPriceList(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		a, err := buildApp(ctx, logger)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		stats := importPriceList(ctx, a.router, pricingTenant, filepath.Base(args[0]), items, pricingUpdate, logger)
		fmt.Printf("Added %d, updated %d, unchanged %d, failed %d\n", stats.added, stats.updated, stats.unchanged, stats.failed)
		if stats.failed > 0 {
			return fmt.Errorf("%d items failed", stats.failed)
		}
		return nil
	},
}

func init() {
	pricingImportCmd.Flags().StringVar(&pricingTenant, "tenant", "", "Tenant (owner id) the price list belongs to")
	pricingImportCmd.Flags().BoolVar(&pricingUpdate, "update", false, "Update the price of items already on the list")
	_ = pricingImportCmd.MarkFlagRequired("tenant")
	pricingCmd.AddCommand(pricingImportCmd)
}

// priceListItem keeps the price as written; loadPriceList converts it to
// cents with the same decimal parser the message extractor uses.
type priceListItem struct {
	Name     string `yaml:"name"`
	Unit     string `yaml:"unit"`
	Price    string `yaml:"price"`
	Category string `yaml:"category"`

	Cents int64 `yaml:"-"`
}

func loadPriceList(r io.Reader) ([]priceListItem, error) {
	var items []priceListItem
	if err := yaml.NewDecoder(r).Decode(&items); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse price list: %w", err)
	}
	for i, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, fmt.Errorf("item %d: name is required", i+1)
		}
		price := strings.TrimSpace(it.Price)
		switch {
		case price == "":
			return nil, fmt.Errorf("item %q: price is required", it.Name)
		case strings.HasPrefix(price, "-"):
			return nil, fmt.Errorf("item %q: price must not be negative", it.Name)
		}
		cents, err := extract.ParseAmount(price)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", it.Name, err)
		}
		items[i].Cents = cents
	}
	return items, nil
}

type importStats struct {
	added, updated, unchanged, failed int
}

func importPriceList(ctx context.Context, router *cil.Router, tenant, source string, items []priceListItem, update bool, log *zap.Logger) importStats {
	var stats importStats
	for _, it := range items {
		key := "pricing-import:" + source + ":" + strings.ToLower(strings.TrimSpace(it.Name))
		res, err := executePricing(ctx, router, cil.AddPricingItem, tenant, key, it)
		if errors.Is(err, storage.ErrConflict) && update {
			res, err = executePricing(ctx, router, cil.UpdatePricingItem, tenant, fmt.Sprintf("%s:%d", key, it.Cents), it)
			if err == nil && res.Inserted {
				stats.updated++
				continue
			}
		}
		switch {
		case errors.Is(err, storage.ErrConflict):
			stats.unchanged++
		case err != nil:
			stats.failed++
			log.Warn("price list item failed", zap.String("name", it.Name), zap.Error(err))
		case res.Inserted:
			stats.added++
		default:
			stats.unchanged++
		}
	}
	return stats
}

func executePricing(ctx context.Context, router *cil.Router, t cil.Type, tenant, key string, it priceListItem) (*cil.Result, error) {
	raw, err := json.Marshal(map[string]any{
		"type":            t,
		"tenant_id":       tenant,
		"source_msg_id":   key,
		"name":            it.Name,
		"unit":            it.Unit,
		"unit_cost_cents": it.Cents,
		"category":        it.Category,
	})
	if err != nil {
		return nil, err
	}
	return router.Execute(ctx, raw, cil.Context{Actor: "import"})
}
