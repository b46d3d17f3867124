package breaker

import (
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// Registry manages one breaker per named dependency. It is the engine's
// core.BreakerFactory: agents ask for breakers by dependency name and get
// the same instance every time.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	optFns   []func(o *Options)
}

var _ core.BreakerFactory = (*Registry)(nil)

// NewRegistry creates a Registry whose breakers share the given options.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker), optFns: optFns}
}

// Breaker returns the breaker for name, creating it on first use.
func (r *Registry) Breaker(name string) core.Breaker {
	return r.Get(name)
}

// Get returns the concrete breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = New(name, r.optFns...)
	r.breakers[name] = cb
	return cb
}

// Stats returns snapshots for all breakers.
func (r *Registry) Stats() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Stats())
	}
	return out
}

// ResetAll forces every breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
