// Package kv provides core.KVStore implementations: a volatile in-memory
// store for tests and ephemeral setups, and a file-backed store writing one
// UTF-8 file per key with atomic replace semantics.
package kv

import (
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// InMemoryStore is a process-local KVStore. It is safe for concurrent
// access and best suited for tests or ephemeral demo hosts.
type InMemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ core.KVStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: make(map[string]string)}
}

// Get returns the value for key and whether it exists.
func (s *InMemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// PutAtomic stores value under key. Map assignment is inherently atomic
// under the lock.
func (s *InMemoryStore) PutAtomic(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Delete removes key.
func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
