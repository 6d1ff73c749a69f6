package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/config"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/pending"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage/sqldb"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove abandoned conversations and stale locks",
	Long: `Remove pending conversation states nobody has touched in a while, and lock
rows whose holder is gone. Defaults come from pending.stale-after and
lock.stale-after.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		olderThan := pruneOlderThan
		if olderThan <= 0 {
			olderThan = config.GetDuration(config.KeyPendingStaleAfter)
		}
		states, locks, err := prune(ctx, store, pending.New(store, logger), olderThan, config.GetDuration(config.KeyLockStaleAfter))
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d pending states and %d stale locks\n", states, locks)
		return nil
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Prune states idle for longer than this (default: pending.stale-after)")
}

func prune(ctx context.Context, store *sqldb.Store, states *pending.Store, stateAge, lockAge time.Duration) (int64, int64, error) {
	n, err := states.Prune(ctx, stateAge)
	if err != nil {
		return 0, 0, err
	}
	l, err := store.PruneLocks(ctx, time.Now().Add(-lockAge))
	if err != nil {
		return n, 0, fmt.Errorf("prune locks: %w", err)
	}
	return n, l, nil
}

// janitor prunes on a fixed interval until ctx ends.
func janitor(ctx context.Context, a *app, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, l, err := prune(ctx, a.store, a.pending,
				config.GetDuration(config.KeyPendingStaleAfter),
				config.GetDuration(config.KeyLockStaleAfter))
			if err != nil {
				a.log.Warn("prune failed", zap.Error(err))
				continue
			}
			if n > 0 || l > 0 {
				a.log.Info("pruned", zap.Int64("pending_states", n), zap.Int64("locks", l))
			}
		}
	}
}
