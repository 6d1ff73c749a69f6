package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/config"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/logging"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/telemetry"
)

var (
	configFile string
	dbDSN      string
	verbose    bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "chief",
	Short: "chief - a text-message ledger for contractors",
	Long: `chief turns short text messages into ledger entries: expenses, revenue,
time, jobs, quotes, agreements, invoices, change orders and price list items.

Run "chief serve" to accept SMS webhooks, or "chief say" and "chief chat"
to talk to the same pipeline from a terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(configFile); err != nil {
			return err
		}
		// Initialize replaces the viper instance, so flags bind afterwards.
		if err := config.BindPFlag(config.KeyStoreDSN, cmd.Root().PersistentFlags().Lookup("db")); err != nil {
			return err
		}

		l, err := logging.New(logging.Options{
			Level:   config.GetString(config.KeyLogLevel),
			JSON:    config.GetBool(config.KeyLogJSON),
			Verbose: verbose,
		})
		if err != nil {
			return err
		}
		logger = l

		if err := telemetry.Init(cmd.Context(), telemetry.Options{
			Enabled:      config.GetBool(config.KeyTelemetryEnabled),
			Stdout:       config.GetBool(config.KeyTelemetryStdout),
			OTLPEndpoint: config.GetString(config.KeyTelemetryOTLP),
			ServiceName:  "chief",
			Version:      Version,
		}); err != nil {
			logger.Warn("telemetry disabled", zap.Error(err))
		}

		if f := config.ConfigFileUsed(); f != "" {
			logger.Debug("config loaded", zap.String("file", f))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
		logging.Sync(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./chief.yaml or ~/.config/chief/chief.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "", "Database DSN, overrides store.dsn")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(pricingCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
