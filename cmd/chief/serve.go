package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/config"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/transport"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept SMS webhooks",
	Long: `Run the webhook server. Each POST to /sms is one inbound message; the reply
goes back in the response body. Edits to category.rules and vendor.aliases
in the config file apply without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, logger)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		config.Watch(a.reloadEnrichment)

		addr := serveAddr
		if addr == "" {
			addr = config.GetString(config.KeyServerAddr)
		}
		srv := transport.NewServer(transport.ServerConfig{
			Handler:      a.engine,
			AuthToken:    config.GetString(config.KeyTransportAuthToken),
			PublicURL:    config.GetString(config.KeyTransportPublicURL),
			ReplyTimeout: config.GetDuration(config.KeyReplyTimeout),
			Logger:       logger.Named("transport"),
		})
		if config.GetString(config.KeyTransportAuthToken) == "" {
			logger.Warn("transport.auth-token not set; webhook signatures are not checked")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("shutting down")
			return srv.Shutdown(sctx)
		})
		g.Go(func() error {
			janitor(gctx, a, time.Hour)
			return nil
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
}
