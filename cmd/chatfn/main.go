// Command chatfn is the single-endpoint deployment of the relay: it answers
// only /api/chat, rejects non-POST requests with 405 and keeps sessions in
// memory for the lifetime of the process.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stupiduntilnot/personarelay/internal/app"
	"github.com/stupiduntilnot/personarelay/internal/config"
	"github.com/stupiduntilnot/personarelay/internal/telemetry"
)

func main() {
	cfg, err := config.LoadRelayConfig()
	if err != nil {
		log.Fatalf("[chatfn] %v", err)
	}
	functionShape(&cfg)

	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.LogLevel))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, "chatfn", logger, nil)
	if err != nil {
		log.Fatalf("[chatfn] %v", err)
	}
	defer rt.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newHandler(rt, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("chatfn listening", "addr", cfg.ListenAddr, "mode", rt.Relay.Mode().String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[chatfn] listen: %v", err)
	}
}

// functionShape forces the stateless deployment settings regardless of
// environment: in-memory history, no sweeper, no static files.
func functionShape(cfg *config.RelayConfig) {
	cfg.HistoryBackend = config.BackendMemory
	cfg.SessionIdleTTL = 0
	cfg.StaticDir = ""
	cfg.RestrictMethods = true
}
