// Package llm defines the provider-agnostic chat abstraction the dispatch
// core consumes. The core never talks to a vendor SDK directly: it issues
// typed ChatRequests against the Client interface and accounts token usage
// from the returned responses.
//
// Providers (e.g. Anthropic, OpenAI) implement Client in their own
// subpackages so higher layers (bidder, agents) remain decoupled from
// vendor SDKs. MockClient offers deterministic canned behavior for tests.
package llm

import (
	"context"
	"errors"
)

// Profile selects a model tier. The mapping to a concrete provider model is
// an adapter concern; the core only distinguishes cheap-and-fast from
// powerful.
type Profile string

const (
	// ProfileFast targets a low-latency, low-cost model.
	ProfileFast Profile = "fast"
	// ProfilePowerful targets the strongest available model.
	ProfilePowerful Profile = "powerful"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest captures the normalized model input produced by the core.
type ChatRequest struct {
	Profile   Profile   `json:"profile"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Thinking  bool      `json:"thinking,omitempty"`
	JSONMode  bool      `json:"json_mode,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	// Feature is a free-form tag for token accounting ("bidder",
	// "calendar.query", ...). Adapters do not interpret it.
	Feature string `json:"feature,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into the receiver.
func (t *TokenUsage) Add(o TokenUsage) {
	t.PromptTokens += o.PromptTokens
	t.CompletionTokens += o.CompletionTokens
	t.TotalTokens += o.TotalTokens
}

// ChatResponse is the final completion for a ChatRequest.
type ChatResponse struct {
	Content    string     `json:"content"`
	TokenUsage TokenUsage `json:"token_usage"`
}

// Client is the minimal interface the core requires from a model provider.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// transientError marks a failure as retryable (rate limits, 5xx, network).
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so IsTransient reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was classified as retryable by an adapter.
// Context cancellation and deadline expiry also count as transient since a
// later attempt may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
