package core

import (
	"context"
	"time"

	"github.com/hupe1980/taskmesh/llm"
	"github.com/hupe1980/taskmesh/logging"
)

// SubtaskSpec describes a child task an agent wants to fan out. Routing
// defaults to locked on the submitting agent; set AutoRoute to re-bid the
// child instead.
type SubtaskSpec struct {
	Content   string
	Context   map[string]any
	AutoRoute bool
	// InheritDeadline makes the child share the parent's deadline instead
	// of receiving its own default.
	InheritDeadline bool
	// Deadline overrides the child's default deadline when non-zero and
	// InheritDeadline is false.
	Deadline time.Duration
}

// SubtaskHandle resolves to the child task's reply. Handles may be awaited
// individually or collected; abandoning a handle does not cancel the child.
type SubtaskHandle struct {
	taskID string
	done   chan struct{}
	reply  *Reply
}

// NewSubtaskHandle creates an unresolved handle for the given child task id.
// Completion is the engine's job.
func NewSubtaskHandle(taskID string) *SubtaskHandle {
	return &SubtaskHandle{taskID: taskID, done: make(chan struct{})}
}

// TaskID returns the child task's id.
func (h *SubtaskHandle) TaskID() string { return h.taskID }

// Complete resolves the handle. Calling it twice panics; the engine
// completes each handle exactly once.
func (h *SubtaskHandle) Complete(reply *Reply) {
	h.reply = reply
	close(h.done)
}

// Wait blocks until the child reply is available or ctx is done.
func (h *SubtaskHandle) Wait(ctx context.Context) (*Reply, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.reply, nil
	}
}

// SubmitSubtaskFunc is the engine-provided child submission capability.
type SubmitSubtaskFunc func(ctx context.Context, spec SubtaskSpec) (*SubtaskHandle, error)

// ExecutionContext is the capability bundle handed to Agent.Execute. Agents
// receive only what they may use: child submission, their own memory
// document, the LLM client, a breaker factory and a logger. Deadlines and
// cancellation arrive through the ctx argument of Execute, not through this
// record.
type ExecutionContext struct {
	taskID  string
	agentID string

	// LLM is the shared model client. Calls are accounted under the
	// Feature tag of each request.
	LLM llm.Client
	// Memory is the agent's own markdown document. Nil when the engine
	// was built without a memory manager.
	Memory Memory
	// Breakers hands out per-dependency circuit breakers.
	Breakers BreakerFactory
	// Logger is scoped to this dispatch.
	Logger logging.Logger

	submit SubmitSubtaskFunc
}

// NewExecutionContext assembles a context for one dispatch. Used by the
// engine; tests may construct one directly to drive an agent in isolation.
func NewExecutionContext(
	taskID, agentID string,
	llmClient llm.Client,
	mem Memory,
	breakers BreakerFactory,
	logger logging.Logger,
	submit SubmitSubtaskFunc,
) *ExecutionContext {
	return &ExecutionContext{
		taskID:   taskID,
		agentID:  agentID,
		LLM:      llmClient,
		Memory:   mem,
		Breakers: breakers,
		Logger:   logging.OrNop(logger),
		submit:   submit,
	}
}

// TaskID returns the id of the task being executed.
func (ec *ExecutionContext) TaskID() string { return ec.taskID }

// AgentID returns the id of the executing agent.
func (ec *ExecutionContext) AgentID() string { return ec.agentID }

// SubmitSubtask fans out a child task, independently routed and tracked.
// Fails with KindSubtaskDepthExceeded when the lineage depth guard trips.
func (ec *ExecutionContext) SubmitSubtask(ctx context.Context, spec SubtaskSpec) (*SubtaskHandle, error) {
	if ec.submit == nil {
		return nil, NewError(KindConfigError, "subtask submission not available in this context")
	}
	return ec.submit(ctx, spec)
}
