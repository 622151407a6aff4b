package session

import (
	"log"
	"sync"
)

// Store is the registry of active call sessions keyed by session id.
// Concurrent access to different keys is safe; access to a single session's
// fields must be serialized by the bridge owning the call.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for the given id, creating it on first
// access. Later calls return the same instance.
func (s *Store) GetOrCreate(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}

	sess := &Session{ID: sessionID}
	s.sessions[sessionID] = sess
	log.Printf("created session %s", sessionID)
	return sess
}

// Find returns the session for the given id, or nil if none exists.
func (s *Store) Find(sessionID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

// Remove deletes the session for the given id.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len reports the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
