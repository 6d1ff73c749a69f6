package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/audit"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/config"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/conversation"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/enrich"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/extract"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/handlers"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/idem"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/lock"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/pending"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/resolver"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage/sqldb"
)

// app is the fully wired pipeline shared by serve, say, chat and pricing.
type app struct {
	store      *sqldb.Store
	locks      *lock.Manager
	pending    *pending.Store
	router     *cil.Router
	engine     *conversation.Engine
	suggester  *enrich.KeywordSuggester
	normalizer *enrich.AliasNormalizer
	log        *zap.Logger
}

// openStore opens the configured database without migrating it.
func openStore(ctx context.Context, log *zap.Logger) (*sqldb.Store, error) {
	store, err := sqldb.Open(ctx, sqldb.Config{
		Driver:    config.GetString(config.KeyStoreDriver),
		DSN:       config.GetString(config.KeyStoreDSN),
		OpTimeout: config.GetDuration(config.KeyStoreOpTimeout),
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func buildApp(ctx context.Context, log *zap.Logger) (*app, error) {
	store, err := openStore(ctx, log)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	extractor, err := newExtractor(log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &app{
		store:      store,
		suggester:  enrich.NewKeywordSuggester(config.GetStringMapStringSlice(config.KeyCategoryRules)),
		normalizer: enrich.NewAliasNormalizer(config.GetStringMapString(config.KeyVendorAliases)),
		log:        log,
	}
	a.locks = lock.New(store, lock.Options{
		Timeout:    config.GetDuration(config.KeyLockTimeout),
		StaleAfter: config.GetDuration(config.KeyLockStaleAfter),
		Logger:     log.Named("lock"),
	})
	a.pending = pending.New(store, log.Named("pending"))
	refs := resolver.New(store, log.Named("resolver"))
	writer := idem.New(store, audit.New(store, log.Named("audit")), idem.Options{
		Timeout: config.GetDuration(config.KeyStoreWriteTimeout),
		Logger:  log.Named("writer"),
	})
	h := handlers.New(handlers.Deps{
		Reader:        store,
		Writer:        writer,
		Resolver:      refs,
		Suggester:     a.suggester,
		Normalizer:    a.normalizer,
		EnrichTimeout: config.GetDuration(config.KeyCategoryTimeout),
		Logger:        log.Named("handlers"),
	})
	a.router = cil.NewRouter(h.Table(), log.Named("router"))
	a.engine = conversation.New(conversation.Deps{
		Locks:     a.locks,
		Pending:   a.pending,
		Extractor: extractor,
		Router:    a.router,
		Resolver:  refs,
		Users:     store,
		Jobs:      store,
		PageSize:  config.GetInt(config.KeyPageSize),
		Logger:    log.Named("conversation"),
	})
	return a, nil
}

// newExtractor picks the extractor named by extract.provider. The anthropic
// provider falls back to the rules when the model call fails.
func newExtractor(log *zap.Logger) (extract.Extractor, error) {
	rules := extract.NewRules()
	switch provider := config.GetString(config.KeyExtractProvider); provider {
	case "", "rules":
		return rules, nil
	case "anthropic":
		model, err := extract.NewAnthropic(extract.AnthropicOptions{
			APIKey:     config.GetString(config.KeyAnthropicAPIKey),
			Model:      config.GetString(config.KeyExtractModel),
			Timeout:    config.GetDuration(config.KeyExtractTimeout),
			MaxRetries: 2,
			Logger:     log.Named("extract"),
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic extractor: %w", err)
		}
		return &extract.Fallback{Primary: model, Secondary: rules, Log: log.Named("extract")}, nil
	default:
		return nil, fmt.Errorf("unknown extract.provider %q (want rules or anthropic)", provider)
	}
}

// reloadEnrichment re-reads the category rules and vendor aliases.
func (a *app) reloadEnrichment() {
	rules := config.GetStringMapStringSlice(config.KeyCategoryRules)
	aliases := config.GetStringMapString(config.KeyVendorAliases)
	a.suggester.Update(rules)
	a.normalizer.Update(aliases)
	a.log.Info("enrichment reloaded",
		zap.Int("category_rules", len(rules)),
		zap.Int("vendor_aliases", len(aliases)))
}

func (a *app) Close() error {
	return a.store.Close()
}
