package session

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/querymesh/core"
)

// InMemoryStore keeps session transcripts in a process local map. It is
// safe for concurrent access and best suited for tests or a single server
// process. Returned sessions are clones.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Session)}
}

// Get returns a clone of the session.
func (s *InMemoryStore) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// IDs returns the known session ids, sorted.
func (s *InMemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete removes a session.
func (s *InMemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// StartTurn opens a new turn for query and returns its id. The session is
// created on first use.
func (s *InMemoryStore) StartTurn(sessionID, query string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	turn := Turn{ID: core.NewID(), Query: query, StartedAt: now}
	sess.Turns = append(sess.Turns, turn)
	sess.UpdatedAt = now
	return turn.ID
}

// Append records msg in the given turn. Unknown sessions or turns are
// ignored and reported as false.
func (s *InMemoryStore) Append(sessionID, turnID string, msg core.StreamMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	for i := len(sess.Turns) - 1; i >= 0; i-- {
		if sess.Turns[i].ID == turnID {
			sess.Turns[i].Messages = append(sess.Turns[i].Messages, msg)
			sess.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// Callback opens a turn for query and returns a core.StreamCallback that
// records every event of the run into it.
func (s *InMemoryStore) Callback(sessionID, query string) core.StreamCallback {
	turnID := s.StartTurn(sessionID, query)
	return func(_ core.AgentID, msg core.StreamMessage, _ *core.CancellationToken) {
		s.Append(sessionID, turnID, msg)
	}
}
