package app

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/callagent/internal/call"
)

var (
	// ErrDuplicateSession is returned by [Registry.Create] for an id that is
	// already registered.
	ErrDuplicateSession = errors.New("app: duplicate session")

	// ErrNoActiveSession is returned when an id has no registered session.
	ErrNoActiveSession = errors.New("app: no active session")
)

// Registry maps session ids to live call sessions. It is the only state
// shared between concurrent calls and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*call.Session
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*call.Session)}
}

// Create registers s under id.
func (r *Registry) Create(id string, s *call.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	r.sessions[id] = s
	return nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*call.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, id)
	}
	return s, nil
}

// Remove evicts id. It reports whether this call removed the entry, so of
// several concurrent removers exactly one sees true.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Disconnect hangs up the session registered under id and evicts it. Like
// [Registry.Remove] it reports whether this call did the eviction; the
// session is hung up at most once through this path.
func (r *Registry) Disconnect(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Hangup()
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.sessions))
}
