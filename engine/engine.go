// Package engine is the dispatch core. Submit takes a user task through
// dedup, routing, admission and execution and always returns a terminal
// Reply, never an error: every failure mode is folded into a Failure result
// with a voice-readable message. The engine owns conversation suspension,
// subtask fan-out and per-agent concurrency; agents only ever see one task
// at a time per admission slot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/taskmesh/bidder"
	"github.com/hupe1980/taskmesh/breaker"
	"github.com/hupe1980/taskmesh/conversation"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/llm"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/memory"
	"github.com/hupe1980/taskmesh/registry"
)

// DedupMessage is spoken when a duplicate submission is suppressed.
const DedupMessage = "Already processing this request."

// Config holds the engine's tunable limits.
type Config struct {
	// DedupWindow is how long a terminal Success suppresses identical
	// resubmissions.
	DedupWindow time.Duration
	// MaxConcurrentPerAgent caps in-flight executions per agent.
	MaxConcurrentPerAgent int64
	// AdmissionTimeout bounds the FIFO wait for an agent slot.
	AdmissionTimeout time.Duration
	// GlobalExecutionTimeout caps any single execution regardless of the
	// task's own deadline.
	GlobalExecutionTimeout time.Duration
	// MaxSubtaskDepth bounds subtask recursion.
	MaxSubtaskDepth int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DedupWindow:            5 * time.Second,
		MaxConcurrentPerAgent:  4,
		AdmissionTimeout:       2 * time.Second,
		GlobalExecutionTimeout: 30 * time.Second,
		MaxSubtaskDepth:        2,
	}
}

// Selector picks the winning agent for a task. *bidder.UnifiedBidder
// satisfies it.
type Selector interface {
	Select(ctx context.Context, task *core.Task, agents []core.Agent) (*bidder.Selection, error)
}

// Options configures an Engine beyond its Config.
type Options struct {
	Config Config
	// Logger defaults to NoOp.
	Logger logging.Logger
	// Telemetry defaults to NoopTelemetry.
	Telemetry core.TelemetrySink
	// Breakers defaults to a fresh breaker registry. Agents share it
	// through the ExecutionContext.
	Breakers core.BreakerFactory
	// Memory is optional; without it agents get a nil memory handle.
	Memory *memory.Manager
	// Conversations defaults to an engine-owned store closed with the
	// engine.
	Conversations *conversation.Store
	// Selector defaults to a UnifiedBidder over the engine's LLM client.
	Selector Selector

	clock func() time.Time // test hook
}

// Request is an inbound top-level task.
type Request struct {
	Content string
	Context map[string]any
	// Routing defaults to auto.
	Routing core.RoutingMode
	// Timeout is the per-task deadline; capped by GlobalExecutionTimeout.
	// Zero means the global timeout applies.
	Timeout time.Duration
}

// Stats is a point-in-time engine snapshot.
type Stats struct {
	Submitted int64
	DedupHits int64
	Failures  int64
	InFlight  map[string]int
	// Tokens aggregates model usage per feature tag across every LLM call
	// made through the engine's client.
	Tokens map[string]llm.TokenUsage
}

// Engine routes and executes tasks against the registered agents.
type Engine struct {
	registry *registry.Registry
	client   llm.Client
	opts     Options
	cfg      Config

	dedup     *dedupTracker
	admission *admission
	convs     *conversation.Store
	ownsConvs bool
	tokens    *tokenAccounting

	initGroup singleflight.Group
	initMu    sync.Mutex
	initDone  map[string]bool

	wg     sync.WaitGroup
	closed atomic.Bool

	submitted atomic.Int64
	dedupHits atomic.Int64
	failures  atomic.Int64
}

// New creates an Engine over the given agent registry and model client. The
// client may be nil when no agent or bidder needs one.
func New(reg *registry.Registry, client llm.Client, optFns ...func(o *Options)) (*Engine, error) {
	if reg == nil {
		return nil, core.NewError(core.KindConfigError, "engine requires an agent registry")
	}

	opts := Options{Config: DefaultConfig()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = core.NoopTelemetry{}
	}
	if opts.Breakers == nil {
		opts.Breakers = breaker.NewRegistry(func(o *breaker.Options) { o.Logger = opts.Logger })
	}
	if opts.clock == nil {
		opts.clock = time.Now
	}

	acct := newTokenAccounting()
	if client != nil {
		client = &accountingClient{inner: client, acct: acct}
	}

	e := &Engine{
		registry:  reg,
		client:    client,
		opts:      opts,
		cfg:       opts.Config,
		dedup:     newDedupTracker(opts.Config.DedupWindow, opts.clock),
		admission: newAdmission(opts.Config.MaxConcurrentPerAgent),
		convs:     opts.Conversations,
		tokens:    acct,
		initDone:  make(map[string]bool),
	}
	if e.convs == nil {
		convs, err := conversation.NewStore(func(o *conversation.Options) { o.Logger = opts.Logger })
		if err != nil {
			return nil, err
		}
		e.convs = convs
		e.ownsConvs = true
	}
	if e.opts.Selector == nil {
		e.opts.Selector = bidder.New(client, opts.Breakers, func(o *bidder.Options) { o.Logger = opts.Logger })
	}
	return e, nil
}

// Submit dispatches a top-level task and blocks until its terminal Reply.
// It never returns an error; every failure is a Failure result.
func (e *Engine) Submit(ctx context.Context, req Request) *core.Reply {
	now := e.opts.clock()
	timeout := e.cfg.GlobalExecutionTimeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}

	id := uuid.NewString()
	task := &core.Task{
		ID:          id,
		Content:     req.Content,
		Context:     req.Context,
		Lineage:     core.Lineage{RootTaskID: id},
		Routing:     req.Routing,
		Deadline:    now.Add(timeout),
		SubmittedAt: now,
	}
	return e.dispatch(ctx, task)
}

// dispatch runs the full pipeline for one task: dedup, routing, admission,
// execution, result handling.
func (e *Engine) dispatch(ctx context.Context, task *core.Task) *core.Reply {
	if e.closed.Load() {
		return e.failureReply(task, "", core.NewError(core.KindConfigError, "engine is shut down"), 0)
	}
	e.wg.Add(1)
	defer e.wg.Done()
	e.submitted.Add(1)
	start := e.opts.clock()

	// Resumptions and subtasks bypass dedup; their content legitimately
	// repeats.
	dedupKey := ""
	if task.ConversationState() == "" && task.Lineage.Depth == 0 {
		dedupKey = normalizeContent(task.Content)
		if e.dedup.begin(dedupKey) {
			e.dedupHits.Add(1)
			e.opts.Telemetry.Record("dedup.suppressed", map[string]any{"task_id": task.ID, "key": dedupKey})
			e.opts.Logger.Debug("suppressed duplicate task %s", task.ID)
			return &core.Reply{
				Result:   core.Success{Message: DedupMessage},
				TaskID:   task.ID,
				Duration: e.opts.clock().Sub(start),
			}
		}
	}

	reply := e.run(ctx, task, start)

	if _, ok := reply.Result.(core.Success); ok {
		e.dedup.commit(dedupKey)
	} else {
		e.dedup.rollback(dedupKey)
	}
	if reply.Failed() {
		e.failures.Add(1)
	}
	e.opts.Telemetry.Record("dispatch.completed", map[string]any{
		"task_id":  task.ID,
		"agent_id": reply.AgentID,
		"duration": reply.Duration,
		"failed":   reply.Failed(),
	})
	return reply
}

// run resolves the agent and executes the task inside an admission slot.
// The task deadline bounds the whole pipeline: routing (agent bids and the
// LLM tiebreak), admission, initialization and execution all share runCtx.
func (e *Engine) run(ctx context.Context, task *core.Task, start time.Time) *core.Reply {
	runCtx, cancel := context.WithDeadline(ctx, task.Deadline)
	defer cancel()

	agent, sel, err := e.route(runCtx, task)
	if err != nil {
		return e.failureReply(task, "", deadlined(runCtx, err), e.opts.clock().Sub(start))
	}
	spec := agent.Spec()

	if err := e.admission.acquire(runCtx, spec.ID, e.cfg.AdmissionTimeout); err != nil {
		return e.failureReply(task, spec.ID, deadlined(runCtx, err), e.opts.clock().Sub(start))
	}
	defer e.admission.release(spec.ID)

	if err := e.ensureInitialized(runCtx, agent); err != nil {
		return e.failureReply(task, spec.ID, deadlined(runCtx, err), e.opts.clock().Sub(start))
	}

	ec := e.executionContext(task, spec.ID)

	result, err := e.invoke(runCtx, agent, task, ec)
	if err == nil {
		// One rerouting step within the same agent, never re-bid.
		if s, ok := result.(core.Success); ok && s.LocalAction != "" && task.ContextString(core.ContextKeyLocalAction) == "" {
			follow := e.localActionTask(task, s.LocalAction)
			e.opts.Logger.Debug("rerouting task %s within agent %s for local action %s", task.ID, spec.ID, s.LocalAction)
			result, err = e.invoke(runCtx, agent, follow, e.executionContext(follow, spec.ID))
		}
	}

	e.saveMemory(ec)

	dur := e.opts.clock().Sub(start)
	if err != nil {
		e.opts.Logger.Error("task %s failed in agent %s: %v", task.ID, spec.ID, err)
		return e.failureReply(task, spec.ID, err, dur)
	}
	return e.finish(task, spec, sel, result, dur)
}

// route picks the executing agent: locked routing first, then a live
// suspended conversation, then the bidder.
func (e *Engine) route(ctx context.Context, task *core.Task) (core.Agent, *bidder.Selection, error) {
	if task.Routing.Kind == core.RouteLocked {
		agent, ok := e.registry.Get(task.Routing.AgentID)
		if !ok {
			return nil, nil, core.NewError(core.KindConfigError, fmt.Sprintf("locked route to unknown agent %q", task.Routing.AgentID))
		}
		return agent, nil, nil
	}

	if task.ConversationState() != "" {
		root := task.ContextString(core.ContextKeyRootTask)
		if root == "" {
			root = task.Lineage.RootTaskID
		}
		if st, ok := e.convs.Get(root); ok {
			agent, found := e.registry.Get(st.AgentID)
			if !found {
				return nil, nil, core.NewError(core.KindConfigError, fmt.Sprintf("suspended conversation references unknown agent %q", st.AgentID))
			}
			e.resumeContext(task, root, st)
			// A resumption keeps the conversation alive even when this
			// turn ends in failure; Success clears it in finish.
			e.convs.Touch(root)
			return agent, nil, nil
		}
		// Stale resumption: the suspended state expired or was cleared.
		// Treat as a fresh top-level task.
		e.opts.Logger.Debug("task %s carries stale conversation state, rerouting fresh", task.ID)
		delete(task.Context, core.ContextKeyConversationState)
	}

	sel, err := e.opts.Selector.Select(ctx, task, e.registry.All())
	if err != nil {
		return nil, nil, err
	}
	agent, ok := e.registry.Get(sel.AgentID)
	if !ok {
		return nil, nil, core.NewError(core.KindConfigError, fmt.Sprintf("bidder selected unknown agent %q", sel.AgentID))
	}
	e.opts.Logger.Debug("task %s routed to %s via %s (confidence %.2f)", task.ID, sel.AgentID, sel.Method, sel.Confidence)
	return agent, sel, nil
}

// resumeContext rebuilds the task context from the authoritative stored
// snapshot plus the new utterance. Client-echoed keys never override what
// the agent suspended with.
func (e *Engine) resumeContext(task *core.Task, root string, st *conversation.State) {
	merged := make(map[string]any, len(st.Snapshot)+2)
	for k, v := range st.Snapshot {
		merged[k] = v
	}
	if input := task.ContextString(core.ContextKeyUserInput); input != "" {
		merged[core.ContextKeyUserInput] = input
	} else {
		merged[core.ContextKeyUserInput] = task.Content
	}
	merged[core.ContextKeyRootTask] = root
	task.Context = merged
	task.Lineage.RootTaskID = root
}

// ensureInitialized runs the agent's one-time setup. Concurrent callers
// share a single initialization; a failed initialization is retried on the
// next task.
func (e *Engine) ensureInitialized(ctx context.Context, agent core.Agent) error {
	spec := agent.Spec()
	if !spec.HasCapability(core.CapabilityInitialize) {
		return nil
	}
	initializer, ok := agent.(core.Initializer)
	if !ok {
		return nil
	}

	e.initMu.Lock()
	done := e.initDone[spec.ID]
	e.initMu.Unlock()
	if done {
		return nil
	}

	_, err, _ := e.initGroup.Do(spec.ID, func() (any, error) {
		if err := initializer.Initialize(ctx); err != nil {
			return nil, err
		}
		e.initMu.Lock()
		e.initDone[spec.ID] = true
		e.initMu.Unlock()
		return nil, nil
	})
	if err != nil {
		return core.WrapError(core.KindAgentError, fmt.Sprintf("agent %s initialization failed", spec.ID), err)
	}
	return nil
}

// executionContext assembles the capability bundle for one invocation.
func (e *Engine) executionContext(task *core.Task, agentID string) *core.ExecutionContext {
	var mem core.Memory
	if e.opts.Memory != nil {
		doc, err := e.opts.Memory.Open(agentID)
		if err != nil {
			e.opts.Logger.Warn("memory unavailable for agent %s: %v", agentID, err)
		} else {
			mem = doc
		}
	}
	return core.NewExecutionContext(
		task.ID, agentID,
		e.client, mem, e.opts.Breakers, e.opts.Logger,
		e.submitSubtaskFunc(task, agentID),
	)
}

type execOutcome struct {
	result core.Result
	err    error
}

// invoke runs Execute against the task deadline. On expiry the engine
// returns a Timeout and discards whatever the agent later produces, with a
// telemetry event for the discarded result.
func (e *Engine) invoke(ctx context.Context, agent core.Agent, task *core.Task, ec *core.ExecutionContext) (core.Result, error) {
	runCtx, cancel := context.WithDeadline(ctx, task.Deadline)
	defer cancel()

	agentID := agent.Spec().ID
	ch := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- execOutcome{err: core.AgentFailure(agentID, fmt.Errorf("panic: %v", r))}
			}
		}()
		result, err := agent.Execute(runCtx, task, ec)
		ch <- execOutcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			var ce *core.Error
			if errors.As(out.err, &ce) {
				return nil, out.err
			}
			return nil, core.AgentFailure(agentID, out.err)
		}
		return out.result, nil
	case <-runCtx.Done():
		go func() {
			out := <-ch
			e.opts.Telemetry.Record("dispatch.late_result_discarded", map[string]any{
				"task_id":  task.ID,
				"agent_id": agentID,
				"errored":  out.err != nil,
			})
		}()
		return nil, core.WrapError(core.KindTimeout, fmt.Sprintf("agent %s missed the deadline", agentID), runCtx.Err())
	}
}

// finish turns a non-error agent result into the outbound Reply.
func (e *Engine) finish(task *core.Task, spec core.AgentSpec, sel *bidder.Selection, result core.Result, dur time.Duration) *core.Reply {
	reply := &core.Reply{
		TaskID:   task.ID,
		AgentID:  spec.ID,
		Duration: dur,
	}
	if sel != nil && sel.TokenUsage != nil {
		usage := *sel.TokenUsage
		reply.TokenUsage = &usage
	}
	if len(spec.Acks) > 0 {
		reply.Ack = spec.Acks[0]
	}

	switch res := result.(type) {
	case core.Success:
		res.LocalAction = ""
		reply.Result = res
		e.convs.Clear(task.Lineage.RootTaskID)

	case core.NeedsInput:
		tag, _ := res.Context[core.ContextKeyConversationState].(string)
		if tag == "" {
			err := core.NewError(core.KindConfigError, fmt.Sprintf("agent %s returned NeedsInput without conversation state", spec.ID))
			e.opts.Logger.Error("%v", err)
			reply.Result = core.FailureFromError(err)
			return reply
		}
		if res.AgentID == "" {
			res.AgentID = spec.ID
		}
		root := task.Lineage.RootTaskID
		res.Context[core.ContextKeyRootTask] = root
		e.convs.Upsert(root, spec.ID, tag, res.Context)
		reply.Result = res

	case core.Failure:
		reply.Result = res

	default:
		err := core.NewError(core.KindAgentError, fmt.Sprintf("agent %s returned no result", spec.ID))
		reply.Result = core.FailureFromError(err)
	}
	return reply
}

// saveMemory persists the agent's document after an execution. Persistence
// failures never fail the task.
func (e *Engine) saveMemory(ec *core.ExecutionContext) {
	if ec.Memory == nil || !ec.Memory.IsDirty() {
		return
	}
	if err := ec.Memory.Save(); err != nil {
		e.opts.Logger.Error("saving memory for agent %s failed: %v", ec.AgentID(), err)
		e.opts.Telemetry.Record("memory.save_failed", map[string]any{"agent_id": ec.AgentID()})
	}
}

// deadlined folds a stage error into a Timeout when the pipeline context
// already expired, so a missed deadline reads the same no matter which stage
// surfaced it first.
func deadlined(runCtx context.Context, err error) error {
	if core.IsKind(err, core.KindTimeout) {
		return err
	}
	if runCtx.Err() != nil {
		return core.WrapError(core.KindTimeout, "task missed the deadline", err)
	}
	return err
}

// failureReply folds an error into a terminal Failure reply. Agent-supplied
// messages are never surfaced raw; the voice message depends on the kind.
// Failure counting happens once, in dispatch.
func (e *Engine) failureReply(task *core.Task, agentID string, err error, dur time.Duration) *core.Reply {
	return &core.Reply{
		Result:   core.FailureFromError(err),
		TaskID:   task.ID,
		AgentID:  agentID,
		Duration: dur,
	}
}

// Stats returns a snapshot of engine counters and in-flight work.
func (e *Engine) Stats() Stats {
	return Stats{
		Submitted: e.submitted.Load(),
		DedupHits: e.dedupHits.Load(),
		Failures:  e.failures.Load(),
		InFlight:  e.admission.snapshot(),
		Tokens:    e.tokens.snapshot(),
	}
}

// Close drains in-flight work, runs agent cleanup and flushes memories. New
// submissions fail after Close begins. Close respects ctx for the drain
// wait but always runs cleanup and flush.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("drain interrupted: %w", ctx.Err()))
	}

	for _, agent := range e.registry.WithCapability(core.CapabilityCleanup) {
		cleaner, ok := agent.(core.Cleaner)
		if !ok {
			continue
		}
		if cerr := cleaner.Cleanup(ctx); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("cleanup of agent %s: %w", agent.Spec().ID, cerr))
		}
	}

	if e.ownsConvs {
		e.convs.Close()
	}
	if e.opts.Memory != nil {
		err = multierr.Append(err, e.opts.Memory.FlushAll())
	}
	return err
}
