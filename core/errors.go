package core

import (
	"errors"
	"fmt"

	"github.com/hupe1980/taskmesh/llm"
)

// ErrorKind is a stable string identifying a failure class. Kinds are part
// of the public contract: hosts branch on them and they appear in Failure
// results returned to ingress.
type ErrorKind string

const (
	// KindNoRoute means the bidder could not select an agent above the
	// routable threshold.
	KindNoRoute ErrorKind = "NoRoute"
	// KindOverloaded means per-agent admission timed out.
	KindOverloaded ErrorKind = "Overloaded"
	// KindTimeout means the agent did not return by the task deadline.
	KindTimeout ErrorKind = "Timeout"
	// KindCircuitOpen means a wrapped dependency refused the call fast.
	KindCircuitOpen ErrorKind = "CircuitOpen"
	// KindAgentError means the agent returned an error.
	KindAgentError ErrorKind = "AgentError"
	// KindSubtaskDepthExceeded means the subtask recursion guard tripped.
	KindSubtaskDepthExceeded ErrorKind = "SubtaskDepthExceeded"
	// KindConfigError means registry or dispatch misconfiguration; fatal
	// for the affected task only.
	KindConfigError ErrorKind = "ConfigError"
)

// Error is the error type produced by the dispatch core. Kind is always
// set; AgentID is set when the failure is attributable to one agent.
type Error struct {
	Kind    ErrorKind
	AgentID string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.AgentID != "" && e.Cause != nil:
		return fmt.Sprintf("%s: agent %s: %s: %v", e.Kind, e.AgentID, e.Message, e.Cause)
	case e.AgentID != "":
		return fmt.Sprintf("%s: agent %s: %s", e.Kind, e.AgentID, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a core Error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError constructs a core Error with a cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AgentFailure constructs an AgentError attributed to the given agent.
func AgentFailure(agentID string, cause error) *Error {
	return &Error{Kind: KindAgentError, AgentID: agentID, Message: "agent execution failed", Cause: cause}
}

// KindOf extracts the ErrorKind from err, or AgentError when err is not a
// core Error.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindAgentError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// Transient reports whether err represents a retryable condition: transient
// LLM/provider failures, timeouts and overload. Hosts may resubmit such
// tasks.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTimeout, KindOverloaded, KindCircuitOpen:
		return true
	}
	return llm.IsTransient(err)
}

// VoiceMessage returns a short spoken-answer string for a failure kind.
// Every Failure the engine emits carries one of these unless the agent
// supplied its own.
func VoiceMessage(kind ErrorKind) string {
	switch kind {
	case KindNoRoute:
		return "I'm not sure how to help with that."
	case KindOverloaded:
		return "I'm a bit busy right now. Give me a moment and ask again."
	case KindTimeout:
		return "That took too long. Please try again."
	case KindCircuitOpen:
		return "One of my services is having trouble. Please try again shortly."
	case KindSubtaskDepthExceeded:
		return "That request got too complicated for me to break down further."
	case KindConfigError:
		return "Something is misconfigured on my end."
	default:
		return "I couldn't answer that right now."
	}
}
