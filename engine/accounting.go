package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/taskmesh/llm"
)

// tokenAccounting aggregates model token usage per feature tag. The engine
// wraps its LLM client with it, so every call made by the bidder or by
// agents through the ExecutionContext is counted under the Feature of its
// request.
type tokenAccounting struct {
	mu        sync.Mutex
	byFeature map[string]llm.TokenUsage
}

func newTokenAccounting() *tokenAccounting {
	return &tokenAccounting{byFeature: make(map[string]llm.TokenUsage)}
}

func (t *tokenAccounting) record(feature string, usage llm.TokenUsage) {
	if feature == "" {
		feature = "unspecified"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.byFeature[feature]
	total.Add(usage)
	t.byFeature[feature] = total
}

func (t *tokenAccounting) snapshot() map[string]llm.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]llm.TokenUsage, len(t.byFeature))
	for k, v := range t.byFeature {
		out[k] = v
	}
	return out
}

// accountingClient decorates an llm.Client with per-feature usage counting.
type accountingClient struct {
	inner llm.Client
	acct  *tokenAccounting
}

func (c *accountingClient) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := c.inner.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	c.acct.record(req.Feature, resp.TokenUsage)
	return resp, nil
}

var _ llm.Client = (*accountingClient)(nil)
