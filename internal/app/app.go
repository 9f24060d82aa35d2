// Package app wires configuration into a running relay: persona, model
// provider, history store, event log and sweeper.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/stupiduntilnot/personarelay/internal/anthropic"
	"github.com/stupiduntilnot/personarelay/internal/config"
	"github.com/stupiduntilnot/personarelay/internal/db"
	"github.com/stupiduntilnot/personarelay/internal/dummy"
	"github.com/stupiduntilnot/personarelay/internal/history"
	"github.com/stupiduntilnot/personarelay/internal/model"
	"github.com/stupiduntilnot/personarelay/internal/openai"
	"github.com/stupiduntilnot/personarelay/internal/persona"
	"github.com/stupiduntilnot/personarelay/internal/relay"
	"github.com/stupiduntilnot/personarelay/internal/telemetry"
)

// Runtime is a fully wired relay plus the resources it owns.
type Runtime struct {
	Relay   *relay.Relay
	Store   history.Store
	Sweeper *history.Sweeper
	Events  *db.EventLog

	database *sql.DB
}

// Build constructs the relay described by cfg. role names the binary in
// the process.started event.
func Build(ctx context.Context, cfg config.RelayConfig, role string, logger *slog.Logger, metrics *telemetry.Metrics) (*Runtime, error) {
	p, err := LoadPersona(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := NewModelProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init model provider: %w", err)
	}

	rt := &Runtime{}
	if err := rt.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if rt.database != nil {
		rt.Events, err = db.NewEventLog(rt.database, map[string]any{
			"role":     role,
			"pid":      os.Getpid(),
			"provider": cfg.ModelProvider,
			"live":     cfg.Live(),
			"persona":  p.Name,
		})
		if err != nil {
			logger.Warn("failed to log process.started", "error", err)
		}
	}

	opts := relay.Options{
		Persona:      p,
		Provider:     provider,
		Store:        rt.Store,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		FallbackNote: cfg.FallbackNote(),
		Metrics:      metrics,
		Logger:       logger,
	}
	if rt.Events != nil {
		opts.Events = rt.Events
	}
	rt.Relay, err = relay.New(opts)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.SessionIdleTTL > 0 {
		rt.Sweeper, err = history.NewSweeper(rt.Store, cfg.SweepSchedule, cfg.SessionIdleTTL, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Sweeper.Busy = rt.Relay.ActiveSessions
		rt.Sweeper.OnSwept = func(removed int) {
			if metrics != nil {
				metrics.SessionsSwept(removed)
			}
			if rt.Events != nil {
				if err := rt.Events.Record(db.EventSessionsSwept, map[string]any{"removed": removed}); err != nil {
					logger.Warn("failed to log sessions.swept", "error", err)
				}
			}
		}
	}
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg config.RelayConfig) error {
	switch cfg.HistoryBackend {
	case config.BackendMemory:
		rt.Store = history.NewMemoryStore(cfg.HistoryWindow)
	case config.BackendSQLite:
		database, err := db.OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		if err := db.InitSchema(database); err != nil {
			database.Close()
			return fmt.Errorf("failed to init schema: %w", err)
		}
		rt.database = database
		rt.Store = history.NewSQLiteStore(database, cfg.HistoryWindow)
	case config.BackendPostgres:
		store, err := history.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.HistoryWindow)
		if err != nil {
			return err
		}
		rt.Store = store
	default:
		return fmt.Errorf("unsupported history backend: %s", cfg.HistoryBackend)
	}
	return nil
}

// Close stops the sweeper and releases the store.
func (rt *Runtime) Close() error {
	if rt.Sweeper != nil {
		rt.Sweeper.Stop()
	}
	var err error
	if rt.Store != nil {
		err = rt.Store.Close()
	}
	if rt.database != nil {
		if cerr := rt.database.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LoadPersona resolves RELAY_PERSONA_FILE, falling back to the built-in
// named by RELAY_PERSONA.
func LoadPersona(cfg config.RelayConfig) (persona.Persona, error) {
	if cfg.PersonaFile != "" {
		return persona.LoadFile(cfg.PersonaFile)
	}
	return persona.Lookup(cfg.Persona)
}

// NewModelProvider returns nil when no credential is configured, which
// puts the relay in fallback mode.
func NewModelProvider(cfg config.RelayConfig) (model.Provider, error) {
	if !cfg.Live() {
		return nil, nil
	}
	switch cfg.ModelProvider {
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIChatCompURL, cfg.OpenAIModel, cfg.UpstreamTimeout), nil
	case config.ProviderAnthropic:
		return anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.UpstreamTimeout), nil
	case config.ProviderDummy:
		return dummy.NewProvider(cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
