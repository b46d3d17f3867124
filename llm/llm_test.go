package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient(t *testing.T) {
	t.Run("canned response", func(t *testing.T) {
		m := NewMockClient()
		m.AddResponse("hello", "hi there")

		resp, err := m.Chat(context.Background(), ChatRequest{
			Messages: []Message{{Role: "user", Content: "hello"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "hi there", resp.Content)
		assert.Equal(t, 2, resp.TokenUsage.CompletionTokens)
	})

	t.Run("unknown prompt echoes", func(t *testing.T) {
		m := NewMockClient()
		resp, err := m.Chat(context.Background(), ChatRequest{
			Messages: []Message{{Role: "user", Content: "whatever"}},
		})
		require.NoError(t, err)
		assert.Contains(t, resp.Content, "whatever")
	})

	t.Run("scripted failures consumed in order", func(t *testing.T) {
		m := NewMockClient()
		first := errors.New("one")
		second := errors.New("two")
		m.FailNext(first, second)

		_, err := m.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "a"}}})
		assert.ErrorIs(t, err, first)
		_, err = m.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "a"}}})
		assert.ErrorIs(t, err, second)
		_, err = m.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "a"}}})
		assert.NoError(t, err)
	})

	t.Run("records calls", func(t *testing.T) {
		m := NewMockClient()
		m.Chat(context.Background(), ChatRequest{Feature: "bidder", Messages: []Message{{Role: "user", Content: "a"}}})

		require.Equal(t, 1, m.CallCount())
		assert.Equal(t, "bidder", m.Calls()[0].Feature)
	})
}

func TestTransient(t *testing.T) {
	base := errors.New("rate limited")

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(MarkTransient(base)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(context.Canceled))

	wrapped := MarkTransient(base)
	assert.ErrorIs(t, wrapped, base)
	assert.Nil(t, MarkTransient(nil))
}

func TestTokenUsageAdd(t *testing.T) {
	var total TokenUsage
	total.Add(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	total.Add(TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})

	assert.Equal(t, 11, total.PromptTokens)
	assert.Equal(t, 7, total.CompletionTokens)
	assert.Equal(t, 18, total.TotalTokens)
}
