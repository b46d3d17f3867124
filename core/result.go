package core

import (
	"time"

	"github.com/hupe1980/taskmesh/llm"
)

// Result is the sum type an agent execution produces: Success, NeedsInput
// or Failure. The interface is sealed; the engine switches over the three
// concrete variants.
type Result interface {
	isResult()
}

// Success is a terminal result. Message is the voice/text answer; HTML is
// an optional rich panel; Data an optional structured payload.
type Success struct {
	Message string
	HTML    string
	Data    map[string]any
	// LocalAction requests one post-processing rerouting step within the
	// same agent. The engine honors it at most once per task and strips
	// it from the emitted reply.
	LocalAction string
}

func (Success) isResult() {}

// NeedsInput suspends the conversation until the user answers Prompt.
// Context must carry ContextKeyConversationState; the agent receives the
// same context plus the user's new utterance on resumption.
type NeedsInput struct {
	Prompt  string
	Options []string
	AgentID string
	Context map[string]any
}

func (NeedsInput) isResult() {}

// Failure is a terminal error result. Message is suitable for voice
// readout.
type Failure struct {
	Kind    ErrorKind
	Message string
}

func (Failure) isResult() {}

// FailureFromError converts an error into a Failure with a voice-readable
// message.
func FailureFromError(err error) Failure {
	kind := KindOf(err)
	return Failure{Kind: kind, Message: VoiceMessage(kind)}
}

// Reply is what the engine returns to ingress: the result plus dispatch
// metadata.
type Reply struct {
	Result     Result
	TaskID     string
	AgentID    string
	Duration   time.Duration
	TokenUsage *llm.TokenUsage
	// Ack is an optional acknowledgement phrase from the winning agent's
	// spec, usable by hosts to speak an immediate confirmation while an
	// action runs.
	Ack string
}

// Failed reports whether the reply carries a Failure result.
func (r *Reply) Failed() bool {
	_, ok := r.Result.(Failure)
	return ok
}

// BriefingContribution is one agent's piece of the composed daily brief.
// Lower priority numbers are spoken earlier; ties break by agent id.
type BriefingContribution struct {
	Section  string
	Priority int // 1..10
	Content  string // speech string
	Data     map[string]any
	AgentID  string
}
