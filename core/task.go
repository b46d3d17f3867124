package core

import "time"

// Context keys the core reads from or writes into task context maps. The
// context map round-trips through the client on clarification turns, so keys
// are plain strings.
const (
	// ContextKeyConversationState tags a task as the resumption of a
	// suspended agent turn. Mandatory inside NeedsInput context.
	ContextKeyConversationState = "conversationState"
	// ContextKeyUserInput carries the new utterance on a resumption task.
	ContextKeyUserInput = "userInput"
	// ContextKeyRootTask identifies the conversation lineage a resumption
	// belongs to. Injected by the engine into NeedsInput context.
	ContextKeyRootTask = "rootTaskId"
	// ContextKeyLocalAction carries the post-processing tag when the
	// engine reroutes a result within the same agent.
	ContextKeyLocalAction = "localAction"
)

// RoutingKind enumerates how a task is matched to an agent.
type RoutingKind string

const (
	// RouteAuto lets the bidder pick the winning agent.
	RouteAuto RoutingKind = "auto"
	// RouteLocked pins the task to a specific agent.
	RouteLocked RoutingKind = "locked"
	// RouteBroadcast targets every capable agent. Used only for briefing.
	RouteBroadcast RoutingKind = "broadcast"
)

// RoutingMode selects the dispatch strategy for a task. The zero value is
// auto routing.
type RoutingMode struct {
	Kind    RoutingKind
	AgentID string // set when Kind == RouteLocked
}

// Auto returns the auto routing mode.
func Auto() RoutingMode { return RoutingMode{Kind: RouteAuto} }

// Locked returns a routing mode pinned to the given agent.
func Locked(agentID string) RoutingMode {
	return RoutingMode{Kind: RouteLocked, AgentID: agentID}
}

// Lineage places a task in its parent/child tree. Top-level tasks are their
// own root with depth 0.
type Lineage struct {
	ParentTaskID string
	RootTaskID   string
	Depth        int
}

// Task is one user-originated or subtask-originated request. Tasks are
// created by ingress or by an agent via subtask submission and mutated only
// by the engine.
type Task struct {
	ID          string
	Content     string
	Context     map[string]any
	Lineage     Lineage
	Routing     RoutingMode
	Deadline    time.Time
	SubmittedAt time.Time
}

// ConversationState returns the conversation state tag carried in the task
// context, or "" when the task is not a resumption.
func (t *Task) ConversationState() string {
	if t.Context == nil {
		return ""
	}
	tag, _ := t.Context[ContextKeyConversationState].(string)
	return tag
}

// ContextString returns the string value stored under key in the task
// context, or "" when missing or not a string.
func (t *Task) ContextString(key string) string {
	if t.Context == nil {
		return ""
	}
	s, _ := t.Context[key].(string)
	return s
}
