// Package briefing composes the daily brief. The composer fans out to every
// agent declaring the briefing capability, bounds each call with its own
// timeout and the shared "briefing" breaker, and assembles the surviving
// contributions into a single speech string plus structured payload.
// Failures are logged and omitted, never fatal.
package briefing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// BreakerName is the dependency name briefing calls are isolated under.
const BreakerName = "briefing"

// AgentSource yields the agents declaring a capability. *registry.Registry
// satisfies it.
type AgentSource interface {
	WithCapability(tag core.Capability) []core.Agent
}

// Options configures a Composer.
type Options struct {
	// AgentTimeout bounds each individual agent's briefing call.
	AgentTimeout time.Duration
	// EmptyLine is spoken when no agent contributed anything.
	EmptyLine string
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		AgentTimeout: 3 * time.Second,
		EmptyLine:    "Nothing to report right now.",
	}
}

// Briefing is the composed output.
type Briefing struct {
	// Speech is the contributions joined with paragraph breaks, ready for
	// voice readout.
	Speech string
	// Contributions holds the structured pieces in spoken order.
	Contributions []core.BriefingContribution
	// Omitted counts agents that failed, timed out or were rejected by
	// the breaker.
	Omitted int
}

// Composer assembles briefings. It is stateless between Compose calls;
// identical contributions produce identical output.
type Composer struct {
	agents   AgentSource
	breakers core.BreakerFactory
	opts     Options
}

// New creates a Composer over the given agent source.
func New(agents AgentSource, breakers core.BreakerFactory, optFns ...func(o *Options)) *Composer {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Composer{agents: agents, breakers: breakers, opts: opts}
}

// Compose runs every briefing-capable agent in parallel and joins the
// results. Output order is (priority ascending, agent id ascending)
// regardless of arrival order.
func (c *Composer) Compose(ctx context.Context) (*Briefing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := c.agents.WithCapability(core.CapabilityBriefing)
	cb := c.breakers.Breaker(BreakerName)

	var (
		mu            sync.Mutex
		contributions []core.BriefingContribution
		omitted       int
	)

	var wg conc.WaitGroup
	for _, a := range candidates {
		briefer, ok := a.(core.Briefer)
		if !ok {
			continue
		}
		agentID := a.Spec().ID
		wg.Go(func() {
			// Panics are caught per agent so several misbehaving
			// briefers are each counted, not just the first.
			var contrib *core.BriefingContribution
			var err error
			if r := panics.Try(func() {
				contrib, err = c.collect(ctx, agentID, briefer, cb)
			}); r != nil {
				err = fmt.Errorf("panic: %v", r.Value)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.opts.Logger.Warn("briefing contribution from %s omitted: %v", agentID, err)
				omitted++
				return
			}
			if contrib != nil {
				contributions = append(contributions, *contrib)
			}
		})
	}
	wg.Wait()

	sort.SliceStable(contributions, func(i, j int) bool {
		if contributions[i].Priority != contributions[j].Priority {
			return contributions[i].Priority < contributions[j].Priority
		}
		return contributions[i].AgentID < contributions[j].AgentID
	})

	return &Briefing{
		Speech:        c.speech(contributions),
		Contributions: contributions,
		Omitted:       omitted,
	}, nil
}

// collect runs one agent's briefing call under its own timeout and the
// shared breaker. A nil contribution with nil error means the agent had
// nothing to say.
func (c *Composer) collect(ctx context.Context, agentID string, briefer core.Briefer, cb core.Breaker) (*core.BriefingContribution, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.AgentTimeout)
	defer cancel()

	var contrib *core.BriefingContribution
	err := cb.Execute(callCtx, func(ctx context.Context) error {
		got, err := briefer.Briefing(ctx)
		if err != nil {
			return err
		}
		contrib = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	if contrib != nil && contrib.AgentID == "" {
		contrib.AgentID = agentID
	}
	return contrib, nil
}

func (c *Composer) speech(contributions []core.BriefingContribution) string {
	parts := make([]string, 0, len(contributions))
	for _, contrib := range contributions {
		if s := strings.TrimSpace(contrib.Content); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return c.opts.EmptyLine
	}
	return strings.Join(parts, "\n\n")
}
