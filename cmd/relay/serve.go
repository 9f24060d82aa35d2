package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stupiduntilnot/personarelay/internal/app"
	"github.com/stupiduntilnot/personarelay/internal/config"
	"github.com/stupiduntilnot/personarelay/internal/server"
	"github.com/stupiduntilnot/personarelay/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr, staticDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API and the viewer's static files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRelayConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			if cmd.Flags().Changed("static") {
				cfg.StaticDir = staticDir
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides RELAY_LISTEN_ADDR)")
	cmd.Flags().StringVar(&staticDir, "static", "", "static file root (overrides RELAY_STATIC_DIR)")
	return cmd
}

func serve(ctx context.Context, cfg config.RelayConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.LogLevel))
	metrics := telemetry.NewMetrics()

	rt, err := app.Build(ctx, cfg, "relay", logger, metrics)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Sweeper != nil {
		rt.Sweeper.Start()
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.New(server.Options{
			Relay:           rt.Relay,
			StaticDir:       cfg.StaticDir,
			DenyFiles:       []string{cfg.EnvFile, cfg.DBPath},
			RestrictMethods: cfg.RestrictMethods,
			AllowMethods:    server.MethodsServer,
			Metrics:         metrics,
			Logger:          logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("relay listening",
		"addr", cfg.ListenAddr,
		"mode", rt.Relay.Mode().String(),
		"provider", cfg.ModelProvider,
		"persona", rt.Relay.Persona(),
		"history_backend", cfg.HistoryBackend,
	)
	if !cfg.Live() {
		logger.Warn("no model credential configured, serving fallback replies", "note", cfg.FallbackNote())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
