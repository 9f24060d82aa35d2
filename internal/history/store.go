package history

import (
	"context"
	"time"
)

// Store persists session turns. Implementations are safe for concurrent
// use and apply their window on every append.
type Store interface {
	// Append adds a turn to the session, creating it when unseen, trims the
	// session to the store window and returns the stored sequence.
	Append(ctx context.Context, sessionID string, turn Turn) ([]Turn, error)
	// Turns returns the stored sequence, or nil for an unknown session.
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
	// Sessions reports how many sessions currently hold turns.
	Sessions(ctx context.Context) (int, error)
	// Sweep removes sessions with no activity for longer than idle, except
	// those named in keep.
	Sweep(ctx context.Context, idle time.Duration, keep ...string) (int, error)
	Close() error
}
