// Package session owns the set of concurrently live workflow engines, keyed
// by session id. The store is the only process-wide mutable state in the
// core: populated on start, read on resume, purged on evict or idle sweep.
package session

import (
	"sync"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/workflow"
)

// Entry binds one session to its live engine instance and the exclusion lock
// serializing all access to it. At most one engine exists per session id.
type Entry struct {
	Session *core.Session
	Engine  *workflow.Engine

	// mu is the per-session exclusive lock; held for the full duration of
	// start, resume, cancel and evict.
	mu sync.Mutex
}

// Lock blocks until the session's exclusion lock is held.
func (e *Entry) Lock() { e.mu.Lock() }

// TryLock acquires the lock without blocking, for the fail-fast mode.
func (e *Entry) TryLock() bool { return e.mu.TryLock() }

// Unlock releases the session's exclusion lock.
func (e *Entry) Unlock() { e.mu.Unlock() }

// Store holds live session entries. Implementations must be safe for
// concurrent access.
type Store interface {
	Get(sessionID string) (*Entry, bool)
	// PutIfAbsent inserts the entry unless the id is already live, so two
	// concurrent starts on the same id linearize to exactly one winner.
	PutIfAbsent(sessionID string, entry *Entry) bool
	// Delete removes the entry iff it is still the stored one, guarding
	// against an evict racing a concurrent re-start of the same id.
	Delete(sessionID string, entry *Entry) bool
	List() []*Entry
	Len() int
}

// InMemoryStore is a volatile Store keeping entries in a process local map.
// Best suited for single-process deployments, tests and demo servers.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*Entry)}
}

// Get returns the live entry for a session id.
func (s *InMemoryStore) Get(sessionID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sessionID]
	return e, ok
}

// PutIfAbsent inserts the entry unless the id is already live.
func (s *InMemoryStore) PutIfAbsent(sessionID string, entry *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sessionID]; ok {
		return false
	}
	s.entries[sessionID] = entry
	return true
}

// Delete removes the entry when it is still the stored one.
func (s *InMemoryStore) Delete(sessionID string, entry *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[sessionID]; ok && cur == entry {
		delete(s.entries, sessionID)
		return true
	}
	return false
}

// List returns a snapshot of all live entries.
func (s *InMemoryStore) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Len reports the number of live sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
