package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/llm"
)

func TestErrorKinds(t *testing.T) {
	err := AgentFailure("calendar", errors.New("boom"))
	assert.Equal(t, KindAgentError, KindOf(err))
	assert.True(t, IsKind(err, KindAgentError))
	assert.False(t, IsKind(err, KindTimeout))
	assert.Contains(t, err.Error(), "calendar")
	assert.Contains(t, err.Error(), "boom")

	wrapped := WrapError(KindCircuitOpen, "bidder unavailable", err)
	assert.Equal(t, KindCircuitOpen, KindOf(wrapped))
	require.ErrorAs(t, wrapped, new(*Error))
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, Transient(NewError(KindTimeout, "deadline")))
	assert.True(t, Transient(NewError(KindOverloaded, "busy")))
	assert.True(t, Transient(NewError(KindCircuitOpen, "open")))
	assert.False(t, Transient(NewError(KindNoRoute, "no winner")))
	assert.True(t, Transient(llm.MarkTransient(errors.New("429"))))
	assert.False(t, Transient(nil))
}

func TestVoiceMessagePerKind(t *testing.T) {
	kinds := []ErrorKind{
		KindNoRoute, KindOverloaded, KindTimeout, KindCircuitOpen,
		KindAgentError, KindSubtaskDepthExceeded, KindConfigError,
	}
	seen := map[string]ErrorKind{}
	for _, k := range kinds {
		msg := VoiceMessage(k)
		require.NotEmpty(t, msg, "kind %s", k)
		if prev, dup := seen[msg]; dup && prev != KindAgentError {
			t.Fatalf("kinds %s and %s share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
}

func TestTaskConversationState(t *testing.T) {
	task := &Task{Content: "3pm"}
	assert.Empty(t, task.ConversationState())

	task.Context = map[string]any{ContextKeyConversationState: "awaiting_time"}
	assert.Equal(t, "awaiting_time", task.ConversationState())
	assert.Empty(t, task.ContextString("missing"))
}

func TestFailureFromError(t *testing.T) {
	f := FailureFromError(NewError(KindNoRoute, "nope"))
	assert.Equal(t, KindNoRoute, f.Kind)
	assert.Equal(t, VoiceMessage(KindNoRoute), f.Message)

	reply := &Reply{Result: f}
	assert.True(t, reply.Failed())
	reply.Result = Success{Message: "ok"}
	assert.False(t, reply.Failed())
}

func TestAgentSpecCapabilities(t *testing.T) {
	spec := AgentSpec{ID: "weather", Capabilities: []Capability{CapabilityBriefing}}
	assert.True(t, spec.HasCapability(CapabilityBriefing))
	assert.False(t, spec.HasCapability(CapabilityBid))
}

func TestSubtaskHandleWait(t *testing.T) {
	h := NewSubtaskHandle("child-1")
	go h.Complete(&Reply{TaskID: "child-1", Result: Success{Message: "done"}})

	reply, err := h.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "child-1", reply.TaskID)
}
