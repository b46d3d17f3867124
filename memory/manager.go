package memory

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/hupe1980/taskmesh/core"
)

// Manager hands out at most one Document per agent id so all mutations for
// an agent funnel through the same in-memory instance and its mutex.
type Manager struct {
	store core.KVStore

	mu   sync.Mutex
	docs map[string]*Document
}

// NewManager creates a Manager over the given store.
func NewManager(store core.KVStore) *Manager {
	return &Manager{store: store, docs: make(map[string]*Document)}
}

// Open returns the agent's document, loading it from the store on first
// access.
func (m *Manager) Open(agentID string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[agentID]; ok {
		return d, nil
	}
	d, err := Load(m.store, agentID)
	if err != nil {
		return nil, err
	}
	m.docs[agentID] = d
	return d, nil
}

// FlushAll saves every dirty document, collecting errors instead of
// stopping at the first one.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	docs := make([]*Document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	m.mu.Unlock()

	var err error
	for _, d := range docs {
		err = multierr.Append(err, d.Save())
	}
	return err
}
