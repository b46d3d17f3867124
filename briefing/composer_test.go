package briefing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/breaker"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/registry"
)

type briefAgent struct {
	id       string
	contrib  *core.BriefingContribution
	err      error
	delay    time.Duration
	panicMsg string
}

func (a *briefAgent) Spec() core.AgentSpec {
	return core.AgentSpec{ID: a.id, Name: a.id, Description: a.id, Capabilities: []core.Capability{core.CapabilityBriefing}}
}

func (a *briefAgent) Execute(ctx context.Context, task *core.Task, ec *core.ExecutionContext) (core.Result, error) {
	return core.Success{Message: "ok"}, nil
}

func (a *briefAgent) Briefing(ctx context.Context) (*core.BriefingContribution, error) {
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.contrib, a.err
}

func newSource(t *testing.T, agents ...core.Agent) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, a := range agents {
		require.NoError(t, reg.Register(a))
	}
	return reg
}

func TestCompose(t *testing.T) {
	t.Run("sorted by priority then agent id", func(t *testing.T) {
		src := newSource(t,
			&briefAgent{id: "weather", contrib: &core.BriefingContribution{Section: "Weather", Priority: 2, Content: "Sunny, 22 degrees."}},
			&briefAgent{id: "calendar", contrib: &core.BriefingContribution{Section: "Calendar", Priority: 1, Content: "Two meetings today."}},
			&briefAgent{id: "alerts", contrib: &core.BriefingContribution{Section: "Alerts", Priority: 2, Content: "No alerts."}},
		)
		c := New(src, breaker.NewRegistry())

		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		require.Len(t, b.Contributions, 3)
		assert.Equal(t, "calendar", b.Contributions[0].AgentID)
		assert.Equal(t, "alerts", b.Contributions[1].AgentID)
		assert.Equal(t, "weather", b.Contributions[2].AgentID)
		assert.Equal(t, "Two meetings today.\n\nNo alerts.\n\nSunny, 22 degrees.", b.Speech)
		assert.Zero(t, b.Omitted)
	})

	t.Run("failure omitted others kept", func(t *testing.T) {
		src := newSource(t,
			&briefAgent{id: "calendar", contrib: &core.BriefingContribution{Priority: 1, Content: "Two meetings today."}},
			&briefAgent{id: "broken", err: errors.New("backend down")},
		)
		c := New(src, breaker.NewRegistry())

		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		require.Len(t, b.Contributions, 1)
		assert.Equal(t, 1, b.Omitted)
		assert.Equal(t, "Two meetings today.", b.Speech)
	})

	t.Run("slow agent times out and is omitted", func(t *testing.T) {
		src := newSource(t,
			&briefAgent{id: "calendar", contrib: &core.BriefingContribution{Priority: 1, Content: "Two meetings today."}},
			&briefAgent{id: "slow", delay: time.Second, contrib: &core.BriefingContribution{Priority: 1, Content: "never"}},
		)
		c := New(src, breaker.NewRegistry(), func(o *Options) { o.AgentTimeout = 20 * time.Millisecond })

		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		require.Len(t, b.Contributions, 1)
		assert.Equal(t, "calendar", b.Contributions[0].AgentID)
		assert.Equal(t, 1, b.Omitted)
	})

	t.Run("panicking agent omitted", func(t *testing.T) {
		src := newSource(t,
			&briefAgent{id: "calendar", contrib: &core.BriefingContribution{Priority: 1, Content: "Two meetings today."}},
			&briefAgent{id: "wild", panicMsg: "boom"},
		)
		c := New(src, breaker.NewRegistry())

		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		require.Len(t, b.Contributions, 1)
		assert.Equal(t, 1, b.Omitted)
	})

	t.Run("every panicking agent counted", func(t *testing.T) {
		src := newSource(t,
			&briefAgent{id: "calendar", contrib: &core.BriefingContribution{Priority: 1, Content: "Two meetings today."}},
			&briefAgent{id: "wild", panicMsg: "boom"},
			&briefAgent{id: "wilder", panicMsg: "bang"},
		)
		c := New(src, breaker.NewRegistry())

		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		require.Len(t, b.Contributions, 1)
		assert.Equal(t, 2, b.Omitted)
	})

	t.Run("nil contribution means nothing to say", func(t *testing.T) {
		src := newSource(t,
			&briefAgent{id: "quiet"},
		)
		c := New(src, breaker.NewRegistry())

		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		assert.Empty(t, b.Contributions)
		assert.Zero(t, b.Omitted)
		assert.Equal(t, "Nothing to report right now.", b.Speech)
	})

	t.Run("empty line configurable", func(t *testing.T) {
		src := newSource(t)
		c := New(src, breaker.NewRegistry(), func(o *Options) { o.EmptyLine = "All quiet." })

		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "All quiet.", b.Speech)
	})

	t.Run("agent id filled from spec", func(t *testing.T) {
		src := newSource(t,
			&briefAgent{id: "weather", contrib: &core.BriefingContribution{Priority: 1, Content: "Sunny."}},
		)
		c := New(src, breaker.NewRegistry())

		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		require.Len(t, b.Contributions, 1)
		assert.Equal(t, "weather", b.Contributions[0].AgentID)
	})

	t.Run("open breaker omits everyone", func(t *testing.T) {
		src := newSource(t,
			&briefAgent{id: "calendar", contrib: &core.BriefingContribution{Priority: 1, Content: "Two meetings today."}},
		)
		reg := breaker.NewRegistry(func(o *breaker.Options) { o.FailureThreshold = 1 })
		reg.Breaker(BreakerName).Mark(errors.New("prior failure"))

		c := New(src, reg)
		b, err := c.Compose(context.Background())
		require.NoError(t, err)
		assert.Empty(t, b.Contributions)
		assert.Equal(t, 1, b.Omitted)
	})
}
