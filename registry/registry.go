// Package registry holds the set of registered agents and validates their
// capability surface at registration time. The registry is read-mostly
// after startup; the mutex exists for registration during initialization.
package registry

import (
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

var knownCapabilities = map[core.Capability]bool{
	core.CapabilityBid:        true,
	core.CapabilityBriefing:   true,
	core.CapabilityInitialize: true,
	core.CapabilityCleanup:    true,
}

// Registry stores agents by id in registration order.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]core.Agent
	order  []string
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{agents: make(map[string]core.Agent)}
}

// Register adds an agent. It rejects nil agents, duplicate ids, empty ids,
// unknown capability tags, and declared capabilities the agent's concrete
// type does not actually implement. All rejections are KindConfigError.
func (r *Registry) Register(a core.Agent) error {
	if a == nil {
		return core.NewError(core.KindConfigError, "cannot register nil agent")
	}
	spec := a.Spec()
	if spec.ID == "" {
		return core.NewError(core.KindConfigError, "agent id must not be empty")
	}
	if err := validateCapabilities(a, spec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[spec.ID]; exists {
		return core.NewError(core.KindConfigError, fmt.Sprintf("duplicate agent id %q", spec.ID))
	}
	r.agents[spec.ID] = a
	r.order = append(r.order, spec.ID)
	return nil
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// All returns agents in registration order.
func (r *Registry) All() []core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// WithCapability returns agents declaring the given tag, in registration
// order.
func (r *Registry) WithCapability(tag core.Capability) []core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.Agent
	for _, id := range r.order {
		if r.agents[id].Spec().HasCapability(tag) {
			out = append(out, r.agents[id])
		}
	}
	return out
}

// validateCapabilities checks that every declared tag is known and backed
// by the matching interface. Dispatch later trusts the tag, so a lie here
// would panic deep in the engine; failing registration is cheaper.
func validateCapabilities(a core.Agent, spec core.AgentSpec) error {
	for _, tag := range spec.Capabilities {
		if !knownCapabilities[tag] {
			return core.NewError(core.KindConfigError,
				fmt.Sprintf("agent %q declares unknown capability %q", spec.ID, tag))
		}
		var ok bool
		switch tag {
		case core.CapabilityBid:
			_, ok = a.(core.Bidder)
		case core.CapabilityBriefing:
			_, ok = a.(core.Briefer)
		case core.CapabilityInitialize:
			_, ok = a.(core.Initializer)
		case core.CapabilityCleanup:
			_, ok = a.(core.Cleaner)
		}
		if !ok {
			return core.NewError(core.KindConfigError,
				fmt.Sprintf("agent %q declares capability %q without implementing it", spec.ID, tag))
		}
	}
	return nil
}
