// Package taskmesh provides a high-level façade over the dispatch core
// (engine, bidder, briefing, memory & logging) enabling rapid construction
// of voice-assistant style agent dispatchers. Most applications interact
// with this package by:
//  1. Creating a Mesh via New() (optionally overriding default in-memory services)
//  2. Registering one or more agents
//  3. Submitting tasks (Submit) and composing briefings (ComposeBriefing)
//
// The façade delegates orchestration to engine.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a real model client,
// a file-backed memory store and a structured logger.
package taskmesh

import (
	"context"

	"github.com/hupe1980/taskmesh/breaker"
	"github.com/hupe1980/taskmesh/briefing"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/engine"
	"github.com/hupe1980/taskmesh/kv"
	"github.com/hupe1980/taskmesh/llm"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/memory"
	"github.com/hupe1980/taskmesh/registry"
)

// Options configures the Mesh instance.
type Options struct {
	// Engine configuration (dedup, admission, timeouts, subtask depth).
	EngineConfig engine.Config

	// LLM is the shared model client handed to the bidder and to agents.
	// Nil disables the LLM tiebreak; keyword routing still works.
	LLM llm.Client

	// MemoryStore backs per-agent markdown memory (defaults to in-memory).
	MemoryStore core.KVStore

	// Telemetry receives core observability events (defaults to discard).
	Telemetry core.TelemetrySink

	// BriefingOptions tune the briefing composer.
	BriefingOptions []func(o *briefing.Options)

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the engine and its services.
type Mesh struct {
	opts     Options
	registry *registry.Registry
	engine   *engine.Engine
	composer *briefing.Composer
	breakers *breaker.Registry
}

// New creates a Mesh with optional overrides. Any unset service is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		EngineConfig: engine.DefaultConfig(),
		MemoryStore:  kv.NewInMemoryStore(),
		Telemetry:    core.NoopTelemetry{},
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	reg := registry.New()
	breakers := breaker.NewRegistry(func(o *breaker.Options) { o.Logger = opts.Logger })
	mgr := memory.NewManager(opts.MemoryStore)

	eng, err := engine.New(reg, opts.LLM, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
		o.Breakers = breakers
		o.Memory = mgr
	})
	if err != nil {
		return nil, err
	}

	composer := briefing.New(reg, breakers, append([]func(o *briefing.Options){
		func(o *briefing.Options) { o.Logger = opts.Logger },
	}, opts.BriefingOptions...)...)

	return &Mesh{
		opts:     opts,
		registry: reg,
		engine:   eng,
		composer: composer,
		breakers: breakers,
	}, nil
}

// Register adds an agent to the underlying registry. Capability tags are
// validated against the agent's method set.
func (m *Mesh) Register(agents ...core.Agent) error {
	for _, a := range agents {
		if err := m.registry.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// Submit dispatches a task and blocks until its terminal Reply. It never
// returns an error; failures arrive as Failure results with voice-readable
// messages.
func (m *Mesh) Submit(ctx context.Context, req engine.Request) *core.Reply {
	return m.engine.Submit(ctx, req)
}

// ComposeBriefing fans out to every briefing-capable agent and assembles
// the daily brief.
func (m *Mesh) ComposeBriefing(ctx context.Context) (*briefing.Briefing, error) {
	return m.composer.Compose(ctx)
}

// Stats returns a snapshot of engine counters and in-flight work.
func (m *Mesh) Stats() engine.Stats {
	return m.engine.Stats()
}

// BreakerStats returns a snapshot of every circuit breaker.
func (m *Mesh) BreakerStats() []breaker.Snapshot {
	return m.breakers.Stats()
}

// Close drains in-flight work, runs agent cleanup and flushes memories.
func (m *Mesh) Close(ctx context.Context) error {
	return m.engine.Close(ctx)
}
