package session

import (
	"sync"

	"github.com/google/uuid"
)

type registryKey struct {
	studentID int
	testID    uuid.UUID
}

// Registry tracks the live session of each (student, test) pair so that
// requests outside the session stream can reach it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[registryKey]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[registryKey]*Session)}
}

// Register stores s and returns the session it replaced, if any. The caller
// is responsible for closing the replaced session.
func (r *Registry) Register(s *Session) *Session {
	key := registryKey{s.studentID, s.testID}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[key]
	r.sessions[key] = s
	return prev
}

// Unregister removes s unless it has already been replaced.
func (r *Registry) Unregister(s *Session) {
	key := registryKey{s.studentID, s.testID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}

// Lookup returns the live session of studentID for testID.
func (r *Registry) Lookup(studentID int, testID uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[registryKey{studentID, testID}]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and forgets every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for k, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, k)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
