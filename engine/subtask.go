package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/taskmesh/core"
)

// submitSubtaskFunc binds child submission to the parent task and its
// executing agent. Children default to the same agent unless the spec asks
// for re-bidding, inherit the lineage root with incremented depth, and run
// on their own deadline unless inheritance is requested. Parent
// cancellation does not cancel children; the parent abandons handles
// explicitly by not waiting on them.
func (e *Engine) submitSubtaskFunc(parent *core.Task, agentID string) core.SubmitSubtaskFunc {
	return func(ctx context.Context, spec core.SubtaskSpec) (*core.SubtaskHandle, error) {
		depth := parent.Lineage.Depth + 1
		if depth > e.cfg.MaxSubtaskDepth {
			return nil, &core.Error{
				Kind:    core.KindSubtaskDepthExceeded,
				AgentID: agentID,
				Message: fmt.Sprintf("subtask depth %d exceeds limit %d", depth, e.cfg.MaxSubtaskDepth),
			}
		}

		now := e.opts.clock()
		deadline := now.Add(e.cfg.GlobalExecutionTimeout)
		switch {
		case spec.InheritDeadline:
			deadline = parent.Deadline
		case spec.Deadline > 0:
			deadline = now.Add(spec.Deadline)
		}

		routing := core.Locked(agentID)
		if spec.AutoRoute {
			routing = core.Auto()
		}

		child := &core.Task{
			ID:      uuid.NewString(),
			Content: spec.Content,
			Context: spec.Context,
			Lineage: core.Lineage{
				ParentTaskID: parent.ID,
				RootTaskID:   parent.Lineage.RootTaskID,
				Depth:        depth,
			},
			Routing:     routing,
			Deadline:    deadline,
			SubmittedAt: now,
		}

		handle := core.NewSubtaskHandle(child.ID)
		e.opts.Telemetry.Record("subtask.submitted", map[string]any{
			"parent_id": parent.ID,
			"child_id":  child.ID,
			"depth":     depth,
		})

		childCtx := context.WithoutCancel(ctx)
		go func() {
			handle.Complete(e.dispatch(childCtx, child))
		}()
		return handle, nil
	}
}

// localActionTask derives the follow-up task for a single in-agent
// rerouting step. The marker context key also serves as the recursion
// guard.
func (e *Engine) localActionTask(task *core.Task, action string) *core.Task {
	follow := *task
	follow.Context = make(map[string]any, len(task.Context)+1)
	for k, v := range task.Context {
		follow.Context[k] = v
	}
	follow.Context[core.ContextKeyLocalAction] = action
	return &follow
}
