// Package relay forwards chat messages to a completion provider in a fixed
// persona, keeping bounded per-session history.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stupiduntilnot/personarelay/internal/db"
	"github.com/stupiduntilnot/personarelay/internal/history"
	"github.com/stupiduntilnot/personarelay/internal/model"
	"github.com/stupiduntilnot/personarelay/internal/persona"
	"github.com/stupiduntilnot/personarelay/internal/telemetry"
)

// Mode is fixed when the relay is built.
type Mode int

const (
	// ModeFallback answers with canned persona lines and keeps no history.
	ModeFallback Mode = iota
	// ModeLive forwards every message to the completion provider.
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "fallback"
}

// Reply is the body of a successful exchange.
type Reply struct {
	Response string `json:"response"`
	Note     string `json:"note,omitempty"`
}

// EventRecorder receives one event per live exchange.
type EventRecorder interface {
	Record(eventType string, payload map[string]any) error
}

// Options configures a Relay. A nil Provider selects fallback mode.
type Options struct {
	Persona      persona.Persona
	Provider     model.Provider
	Store        history.Store
	MaxTokens    int
	Temperature  float64
	FallbackNote string
	Events       EventRecorder
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
	Rand         *rand.Rand
}

// Relay is safe for concurrent use. Requests for the same session are
// serialized from the user-turn append through the assistant-turn append.
type Relay struct {
	mode        Mode
	persona     persona.Persona
	provider    model.Provider
	store       history.Store
	maxTokens   int
	temperature float64
	note        string
	events      EventRecorder
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	locks       *keyLocks

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a relay. The mode is decided here and never changes.
func New(opts Options) (*Relay, error) {
	if err := opts.Persona.Validate(); err != nil {
		return nil, err
	}
	r := &Relay{
		mode:        ModeFallback,
		persona:     opts.Persona,
		provider:    opts.Provider,
		store:       opts.Store,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		note:        opts.FallbackNote,
		events:      opts.Events,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		locks:       newKeyLocks(),
		rng:         opts.Rand,
	}
	if opts.Provider != nil {
		if opts.Store == nil {
			return nil, errors.New("relay: live mode requires a history store")
		}
		r.mode = ModeLive
	}
	if r.maxTokens <= 0 {
		r.maxTokens = model.DefaultMaxTokens
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Mode reports the operating mode chosen at construction.
func (r *Relay) Mode() Mode { return r.mode }

// ActiveSessions lists sessions with an exchange holding or waiting for
// their lock.
func (r *Relay) ActiveSessions() []string { return r.locks.keys() }

// Persona returns the persona name.
func (r *Relay) Persona() string { return r.persona.Name }

// Handle processes one chat message for sessionID ("default" when empty).
func (r *Relay) Handle(ctx context.Context, message, sessionID string) (Reply, error) {
	if message == "" {
		r.count(telemetry.OutcomeInvalid)
		return Reply{}, ErrMessageRequired
	}
	if sessionID == "" {
		sessionID = history.DefaultSessionID
	}

	switch r.mode {
	case ModeLive:
		return r.exchange(ctx, message, sessionID)
	default:
		r.count(telemetry.OutcomeFallback)
		return Reply{Response: r.fallback(), Note: r.note}, nil
	}
}

func (r *Relay) exchange(ctx context.Context, message, sessionID string) (Reply, error) {
	logger := telemetry.RequestLogger(ctx, r.logger).With(slog.String("session_id", sessionID))

	unlock, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("wait for session %s: %w", sessionID, err)
	}
	defer unlock()

	turns, err := r.store.Append(ctx, sessionID, history.Turn{Role: history.RoleUser, Content: message})
	if err != nil {
		logger.Error("append user turn failed", "error", err)
		return Reply{}, fmt.Errorf("append user turn: %w", err)
	}

	start := time.Now()
	resp, err := r.provider.Complete(ctx, model.Request{
		System:      r.persona.Prompt,
		History:     turns,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	elapsed := time.Since(start)
	if err != nil {
		r.count(telemetry.OutcomeUpstream)
		logger.Error("chat error", "error", err, "duration_ms", elapsed.Milliseconds())
		r.record(ctx, db.EventChatFailed, map[string]any{
			"session_id":  sessionID,
			"turns":       len(turns),
			"error":       err.Error(),
			"duration_ms": elapsed.Milliseconds(),
		})
		return Reply{}, &UpstreamError{Err: err}
	}
	if r.metrics != nil {
		r.metrics.UpstreamCall(elapsed, resp.InputTokens, resp.OutputTokens)
	}

	turns, err = r.store.Append(ctx, sessionID, history.Turn{Role: history.RoleAssistant, Content: resp.Content})
	if err != nil {
		logger.Error("append assistant turn failed", "error", err)
		return Reply{}, fmt.Errorf("append assistant turn: %w", err)
	}

	r.count(telemetry.OutcomeReply)
	logger.Debug("chat reply", "turns", len(turns), "duration_ms", elapsed.Milliseconds())
	r.record(ctx, db.EventChatCompleted, map[string]any{
		"session_id":    sessionID,
		"turns":         len(turns),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"duration_ms":   elapsed.Milliseconds(),
	})
	return Reply{Response: resp.Content}, nil
}

func (r *Relay) fallback() string {
	if r.rng == nil {
		return r.persona.Fallback(nil)
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.persona.Fallback(r.rng)
}

func (r *Relay) count(outcome string) {
	if r.metrics != nil {
		r.metrics.ChatOutcome(outcome)
	}
}

func (r *Relay) record(ctx context.Context, eventType string, payload map[string]any) {
	if r.events == nil {
		return
	}
	if id := telemetry.RequestID(ctx); id != "" {
		payload["request_id"] = id
	}
	if err := r.events.Record(eventType, payload); err != nil {
		r.logger.Warn("failed to record event", "event", eventType, "error", err)
	}
}
