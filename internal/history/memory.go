package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memSession struct {
	turns      []Turn
	lastActive time.Time
}

// MemoryStore keeps sessions in process memory. Everything is lost on
// restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	window   int
	now      func() time.Time
}

// NewMemoryStore creates an in-memory store keeping window turns per session.
func NewMemoryStore(window int) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		window:   window,
		now:      time.Now,
	}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turn Turn) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memSession{}
		s.sessions[sessionID] = sess
	}
	sess.turns = Window(append(sess.turns, turn), s.window)
	sess.lastActive = s.now()
	return cloneTurns(sess.turns), nil
}

func (s *MemoryStore) Turns(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneTurns(sess.turns), nil
}

func (s *MemoryStore) Sessions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), nil
}

func (s *MemoryStore) Sweep(_ context.Context, idle time.Duration, keep ...string) (int, error) {
	if idle <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastActive) > idle && !slices.Contains(keep, id) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
