package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient is a lightweight in-memory Client useful for tests & examples.
// Responses are keyed by the latest user message; unrecognized prompts get a
// generic echo. Failures can be scripted to exercise breaker and fallback
// paths.
type MockClient struct {
	mu        sync.Mutex
	responses map[string]string
	failures  []error // consumed front to back before any response
	calls     []ChatRequest
}

// NewMockClient constructs an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{responses: make(map[string]string)}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockClient) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailNext queues errors returned by subsequent Chat calls, in order, before
// any canned response is served.
func (m *MockClient) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls returns a copy of all requests observed so far.
func (m *MockClient) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Chat invocations observed so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Chat implements Client.
func (m *MockClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		m.mu.Unlock()
		return nil, err
	}

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			prompt = req.Messages[i].Content
			break
		}
	}
	full, ok := m.responses[prompt]
	m.mu.Unlock()

	if !ok {
		full = fmt.Sprintf("Mock response to: %s", prompt)
	}
	approx := len(strings.Fields(full))
	return &ChatResponse{
		Content: full,
		TokenUsage: TokenUsage{
			PromptTokens:     len(strings.Fields(prompt)),
			CompletionTokens: approx,
			TotalTokens:      len(strings.Fields(prompt)) + approx,
		},
	}, nil
}

var _ Client = (*MockClient)(nil)
