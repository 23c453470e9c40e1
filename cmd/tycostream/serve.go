package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tycostream/tycostream/pkg/api"
	"github.com/tycostream/tycostream/pkg/config"
	"github.com/tycostream/tycostream/pkg/gateway"
	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/trigger"
	"github.com/tycostream/tycostream/pkg/version"
)

// httpDrainTimeout bounds the HTTP server's own shutdown, separate from the
// streaming grace budget.
const httpDrainTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming gateway",
	Long: `Serve connects to the upstream database, subscribes to every source in
schema.yaml, and serves the HTTP/WebSocket API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Initialize(configDir)
		if err != nil {
			return err
		}
		registry, err := schema.Load(config.SchemaPath(configDir))
		if err != nil {
			return err
		}

		slog.Info("Starting tycostream",
			"version", version.Full(),
			"sources", registry.Len(),
			"listen_addr", cfg.Server.ListenAddr)

		gw := gateway.New(cfg, registry)
		engine := trigger.NewEngine(registry, gw, trigger.WebhookConfig{
			RequestTimeout: cfg.Webhooks.RequestTimeout.Std(),
			MaxAttempts:    cfg.Webhooks.MaxAttempts,
			MinBackoff:     cfg.Webhooks.MinBackoff.Std(),
			MaxBackoff:     cfg.Webhooks.MaxBackoff.Std(),
			QueueSize:      cfg.Webhooks.QueueSize,
		}, nil)
		server := api.NewServer(cfg, gw, engine)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		gwErr := make(chan error, 1)
		go func() { gwErr <- gw.Run(runCtx) }()

		httpErr := make(chan error, 1)
		go func() {
			slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
			if err := server.Start(cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()

		var runErr error
		gatewayDown := false
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received")
		case runErr = <-gwErr:
			gatewayDown = true
			slog.Error("Gateway stopped", "error", runErr)
		case runErr = <-httpErr:
			slog.Error("HTTP server failed", "error", runErr)
		}

		// Orderly teardown: stop the streams first so every subscriber
		// sees its shutdown signal, then drain pending webhook work, then
		// close the listener.
		cancel()
		if !gatewayDown {
			if err := <-gwErr; err != nil && runErr == nil {
				runErr = err
			}
		}

		engine.Shutdown(cfg.Runtime.ShutdownGrace.Std())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpDrainTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}

		slog.Info("Shutdown complete")
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
