package esia

import "sync"

// SessionStateKey is the session attribute under which the anti-forgery
// state lives between the login and callback legs.
const SessionStateKey = "esia_state"

// SessionStore is the minimal per-session persistence the strategy needs.
// Get returns the empty string for an unset key. Hosts with their own
// session layer implement this over it; NewMemorySessionStore is enough
// for single-process deployments.
type SessionStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

type memorySessionStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemorySessionStore returns an in-process SessionStore.
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{values: make(map[string]string)}
}

func (s *memorySessionStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

func (s *memorySessionStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memorySessionStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
