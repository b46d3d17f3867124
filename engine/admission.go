package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/taskmesh/core"
)

// admission enforces the per-agent concurrency cap. Waiters queue FIFO on a
// weighted semaphore per agent id; a waiter that does not get a slot within
// the admission timeout fails with KindOverloaded.
type admission struct {
	slots int64

	mu       sync.Mutex
	sems     map[string]*semaphore.Weighted
	inFlight map[string]int
}

func newAdmission(slots int64) *admission {
	return &admission{
		slots:    slots,
		sems:     make(map[string]*semaphore.Weighted),
		inFlight: make(map[string]int),
	}
}

func (a *admission) sem(agentID string) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sems[agentID]
	if !ok {
		s = semaphore.NewWeighted(a.slots)
		a.sems[agentID] = s
	}
	return s
}

// acquire takes one slot for the agent, waiting up to timeout.
func (a *admission) acquire(ctx context.Context, agentID string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.sem(agentID).Acquire(waitCtx, 1); err != nil {
		return core.WrapError(core.KindOverloaded, fmt.Sprintf("agent %s is at capacity", agentID), err)
	}
	a.mu.Lock()
	a.inFlight[agentID]++
	a.mu.Unlock()
	return nil
}

// release returns the agent's slot.
func (a *admission) release(agentID string) {
	a.mu.Lock()
	a.inFlight[agentID]--
	a.mu.Unlock()
	a.sem(agentID).Release(1)
}

// snapshot returns the current in-flight count per agent.
func (a *admission) snapshot() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.inFlight))
	for id, n := range a.inFlight {
		if n > 0 {
			out[id] = n
		}
	}
	return out
}
