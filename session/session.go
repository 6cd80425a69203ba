// Package session implements Session Memory: a bounded, in-process
// record of each conversation's prior turns, evicted by both turn
// count and age (spec.md §4.L).
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxTurns and DefaultMaxAge bound a session's retained history
// when the caller doesn't override them.
const (
	DefaultMaxTurns = 20
	DefaultMaxAge   = 2 * time.Hour
)

// Turn is one role/content exchange.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

type entry struct {
	turns    []Turn
	lastUsed time.Time
}

// Store holds every active session's bounded turn history.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	maxTurns int
	maxAge   time.Duration
}

// New builds a Store. maxTurns <= 0 and maxAge <= 0 fall back to the
// package defaults.
func New(maxTurns int, maxAge time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{sessions: make(map[string]*entry), maxTurns: maxTurns, maxAge: maxAge}
}

// NewSession allocates a fresh session id.
func (s *Store) NewSession() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &entry{lastUsed: time.Now()}
	s.mu.Unlock()
	return id
}

// Append records one turn, trimming the oldest turns once maxTurns is
// exceeded. Appending to an unknown session id creates it, so a
// caller-supplied id (e.g. from a resumed client) works without a
// separate NewSession call.
func (s *Store) Append(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		e = &entry{}
		s.sessions[sessionID] = e
	}
	e.turns = append(e.turns, Turn{Role: role, Content: content, Timestamp: time.Now()})
	if len(e.turns) > s.maxTurns {
		e.turns = e.turns[len(e.turns)-s.maxTurns:]
	}
	e.lastUsed = time.Now()
}

// History returns up to maxTurns of a session's most recent turns,
// oldest first. maxTurns <= 0 returns the full retained history. A
// session that has aged out past maxAge, or that was never created,
// returns an empty slice.
func (s *Store) History(sessionID string, maxTurns int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || time.Since(e.lastUsed) > s.maxAge {
		return nil
	}

	turns := e.turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Evict drops every session whose lastUsed exceeds maxAge, returning
// the count removed. Intended to be called periodically by the
// orchestrator, not on every request.
func (s *Store) Evict() (removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, e := range s.sessions {
		if now.Sub(e.lastUsed) > s.maxAge {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Count reports the number of currently tracked sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
