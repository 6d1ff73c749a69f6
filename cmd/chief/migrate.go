package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Apply the schema for the configured store.driver. Safe to run repeatedly;
serve, say and chat also migrate on startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Printf("Schema up to date (%s)\n", store.Driver())
		return nil
	},
}
