package touch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultSessionID names the process-wide session shared by callers that do
// not open their own.
const DefaultSessionID = "default"

// Registry holds the live sessions of a process.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry validates cfg and creates the default session.
func NewRegistry(cfg Config) (*Registry, error) {
	def, err := NewSession(DefaultSessionID, cfg)
	if err != nil {
		return nil, err
	}
	return &Registry{
		cfg:      cfg,
		sessions: map[string]*Session{DefaultSessionID: def},
	}, nil
}

// Default returns the shared session.
func (r *Registry) Default() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[DefaultSessionID]
}

// Open allocates a new session with a random id.
func (r *Registry) Open() *Session {
	id := uuid.New().String()
	// cfg was validated by NewRegistry.
	s, _ := NewSession(id, r.cfg)
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s
}

// Get looks a session up. An empty id resolves to the default session.
func (r *Registry) Get(id string) (*Session, error) {
	if id == "" {
		id = DefaultSessionID
	}
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	return s, nil
}

// Close tears a session down. Closing the default session only resets it.
func (r *Registry) Close(id string) error {
	if id == DefaultSessionID {
		r.Default().Reset()
		return nil
	}
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	return nil
}

// Len returns the number of live sessions, the default one included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than maxIdle and returns their ids.
// The default session is never swept.
func (r *Registry) Sweep(maxIdle time.Duration) []string {
	now := time.Now()
	var expired []string
	r.mu.Lock()
	for id, s := range r.sessions {
		if id == DefaultSessionID {
			continue
		}
		if s.IdleFor(now) > maxIdle {
			delete(r.sessions, id)
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()
	return expired
}
