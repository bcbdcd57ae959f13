package game

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrCapacity rejects new sessions once the configured ceiling is
	// reached.
	ErrCapacity = errors.New("session capacity reached")
	// ErrSessionNotFound marks a lookup for an unknown game id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRegistryClosed rejects new sessions during shutdown.
	ErrRegistryClosed = errors.New("registry closed")
)

// Registry tracks live sessions by game id. A session stays registered
// through its terminal phase and linger window so late attaches still
// receive the final snapshot; the session deregisters itself when the
// linger expires.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	capacity int
	closed   bool
	log      *zap.Logger
}

func NewRegistry(capacity int, log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		capacity: capacity,
		log:      log,
	}
}

// Add registers a session, enforcing the capacity ceiling.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if r.capacity > 0 && len(r.sessions) >= r.capacity {
		return ErrCapacity
	}
	r.sessions[s.ID()] = s
	return nil
}

// Get returns the live session for a game id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops a session from the registry. Wired as every session's
// OnClose hook.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	r.log.Debug("session_removed", zap.String("game_id", id), zap.Int("live", n))
}

// Full reports whether the capacity ceiling has been reached.
func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capacity > 0 && len(r.sessions) >= r.capacity
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops admitting sessions, aborts every live one, and waits
// for their loops to drain or the context to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Abort()
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.log.Info("registry_drained", zap.Int("aborted", len(live)))
	return nil
}
