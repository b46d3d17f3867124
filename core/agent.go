package core

import (
	"context"
	"time"
)

// Capability tags enumerate the optional surface an agent declares beyond
// the required Execute. Dispatch checks the declared tag, not the presence
// of a method: an agent that implements Bidder but does not declare
// CapabilityBid is never asked to bid.
type Capability string

const (
	// CapabilityBid marks agents that score their own suitability.
	CapabilityBid Capability = "bid"
	// CapabilityBriefing marks agents contributing to the daily brief.
	CapabilityBriefing Capability = "briefing"
	// CapabilityInitialize marks agents requiring lazy one-time setup.
	CapabilityInitialize Capability = "initialize"
	// CapabilityCleanup marks agents with teardown work at shutdown.
	CapabilityCleanup Capability = "cleanup"
)

// ExecutionType distinguishes read-only queries from side-effectful actions.
type ExecutionType string

const (
	// ExecutionQuery marks agents whose execution has no side effects.
	ExecutionQuery ExecutionType = "query"
	// ExecutionAction marks agents whose execution changes external state.
	ExecutionAction ExecutionType = "action"
)

// AgentSpec is the static self-description an agent registers with.
type AgentSpec struct {
	ID           string
	Name         string
	Description  string
	Capabilities []Capability
	// Keywords are cheap routing hints matched against task content.
	Keywords []string
	// Patterns are example utterances surfaced to the LLM tiebreak.
	Patterns      []string
	Voice         string
	Acks          []string
	ExecutionType ExecutionType
	// EstimatedExecution is the common-case latency the agent commits to.
	EstimatedExecution time.Duration
}

// HasCapability reports whether the spec declares the given tag.
func (s AgentSpec) HasCapability(tag Capability) bool {
	for _, c := range s.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Agent is the contract every registered agent satisfies. Execute must be
// idempotent for the same (taskID, attempt), must respect ctx cancellation,
// and may not share mutable state across tasks except via the memory handle
// in the ExecutionContext.
type Agent interface {
	Spec() AgentSpec
	Execute(ctx context.Context, task *Task, ec *ExecutionContext) (Result, error)
}

// Bid is an agent's self-reported suitability for a task.
type Bid struct {
	AgentID    string
	Confidence float64 // in [0,1]
	Reasoning  string
}

// Bidder is implemented by agents declaring CapabilityBid.
type Bidder interface {
	Bid(ctx context.Context, task *Task) (Bid, error)
}

// Briefer is implemented by agents declaring CapabilityBriefing. A nil
// contribution means the agent has nothing to say today.
type Briefer interface {
	Briefing(ctx context.Context) (*BriefingContribution, error)
}

// Initializer is implemented by agents declaring CapabilityInitialize. The
// engine calls Initialize lazily before the first execution; concurrent
// callers share a single initialization.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by agents declaring CapabilityCleanup.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
