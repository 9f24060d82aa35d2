package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the idle-session sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Sweeper periodically removes idle sessions from a Store.
type Sweeper struct {
	cron    *cron.Cron
	store   Store
	idle    time.Duration
	logger  *slog.Logger
	OnSwept func(removed int)
	// Busy lists sessions with an exchange in flight. They are never swept,
	// so an exchange cannot lose its user turn halfway through.
	Busy func() []string
}

// NewSweeper schedules Store.Sweep with a cron spec such as "@every 5m".
func NewSweeper(store Store, schedule string, idle time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if idle <= 0 {
		return nil, fmt.Errorf("sweeper requires a positive idle ttl, got %s", idle)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:   cron.New(),
		store:  store,
		idle:   idle,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		_, _ = s.RunOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce sweeps immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	var busy []string
	if s.Busy != nil {
		busy = s.Busy()
	}
	removed, err := s.store.Sweep(ctx, s.idle, busy...)
	if err != nil {
		s.logger.Error("session sweep failed", "error", err)
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("swept idle sessions", "removed", removed, "idle_ttl", s.idle.String())
		if s.OnSwept != nil {
			s.OnSwept(removed)
		}
	}
	return removed, nil
}
