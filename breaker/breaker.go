// Package breaker implements per-dependency circuit breaking. Every agent
// and the bidder wrap their external calls in a named breaker obtained from
// the Registry, so failure isolation is uniform across the mesh.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed - normal operation, requests allowed.
	StateClosed State = iota
	// StateOpen - failing, requests blocked.
	StateOpen
	// StateHalfOpen - testing if the dependency recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Options configures circuit breaker behavior.
type Options struct {
	// FailureThreshold is the number of failures within Window that opens
	// the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before admitting a
	// half-open probe.
	ResetTimeout time.Duration
	// Window bounds the failure-counting interval while closed.
	Window time.Duration
	// OnStateChange is an optional transition callback.
	OnStateChange func(name string, from, to State)
	// Logger defaults to NoOp.
	Logger logging.Logger

	clock func() time.Time // test hook
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		Window:           60 * time.Second,
	}
}

// CircuitBreaker is a per-named-dependency state machine. It guarantees at
// most one in-flight probe while half-open: the probe admission flag is
// checked and set under the same lock as the state transition.
type CircuitBreaker struct {
	name string
	opts Options

	mu           sync.Mutex
	state        State
	failureCount int
	windowStart  time.Time
	openedAt     time.Time
	probing      bool
}

var _ core.Breaker = (*CircuitBreaker)(nil)

// New creates a circuit breaker for the named dependency.
func New(name string, optFns ...func(o *Options)) *CircuitBreaker {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.clock == nil {
		opts.clock = time.Now
	}
	return &CircuitBreaker{name: name, opts: opts, state: StateClosed}
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn under breaker protection. When the circuit is open it
// fails fast with a KindCircuitOpen error without invoking fn. Errors from
// fn are returned verbatim after being recorded. A panic in fn is recorded
// as a failure before it propagates, so a panicking half-open probe cannot
// leave the breaker stuck rejecting calls.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	marked := false
	defer func() {
		if !marked {
			cb.Mark(fmt.Errorf("call panicked"))
		}
	}()
	err := fn(ctx)
	marked = true
	cb.Mark(err)
	return err
}

// Do runs a value-returning thunk under breaker protection. Helper around
// Allow/Mark avoiding method generics. Panics in fn are recorded as
// failures like in Execute.
func Do[T any](ctx context.Context, cb core.Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.Allow(); err != nil {
		return zero, err
	}
	marked := false
	defer func() {
		if !marked {
			cb.Mark(fmt.Errorf("call panicked"))
		}
	}()
	result, err := fn(ctx)
	marked = true
	cb.Mark(err)
	return result, err
}

// Allow checks whether a call can proceed. Callers that need to inspect
// results pair Allow with Mark instead of using Execute.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.opts.clock()
	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.opts.ResetTimeout {
			cb.setState(StateHalfOpen)
			cb.probing = true
			cb.opts.Logger.Debug("breaker %s admitting half-open probe", cb.name)
			return nil
		}
		return cb.openError(now)

	case StateHalfOpen:
		if cb.probing {
			return cb.openError(now)
		}
		cb.probing = true
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.state)
	}
}

// Mark records a call outcome: nil for success, non-nil for failure.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.opts.clock()
	if err == nil {
		cb.onSuccess()
		return
	}
	cb.onFailure(now)
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.probing = false
		cb.failureCount = 0
		cb.setState(StateClosed)
		cb.opts.Logger.Info("breaker %s closed (dependency recovered)", cb.name)
	case StateOpen:
		// Late result from a call admitted before the trip. Ignored.
	}
}

func (cb *CircuitBreaker) onFailure(now time.Time) {
	switch cb.state {
	case StateClosed:
		if cb.failureCount == 0 || now.Sub(cb.windowStart) > cb.opts.Window {
			cb.windowStart = now
			cb.failureCount = 0
		}
		cb.failureCount++
		if cb.failureCount >= cb.opts.FailureThreshold {
			cb.openedAt = now
			cb.setState(StateOpen)
			cb.opts.Logger.Warn("breaker %s opened after %d failures", cb.name, cb.failureCount)
		}
	case StateHalfOpen:
		cb.probing = false
		cb.openedAt = now
		cb.setState(StateOpen)
		cb.opts.Logger.Warn("breaker %s reopened (probe failed)", cb.name)
	case StateOpen:
		cb.openedAt = now
	}
}

func (cb *CircuitBreaker) openError(now time.Time) error {
	retryIn := cb.opts.ResetTimeout - now.Sub(cb.openedAt)
	if retryIn < 0 {
		retryIn = 0
	}
	return core.NewError(core.KindCircuitOpen,
		fmt.Sprintf("dependency %s unavailable, retry in %s", cb.name, retryIn.Round(time.Millisecond)))
}

// setState transitions to a new state; caller holds the lock.
func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	cb.state = newState
	if cb.opts.OnStateChange != nil && oldState != newState {
		go cb.opts.OnStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot reports current counters for telemetry.
type Snapshot struct {
	Name         string
	State        State
	FailureCount int
	OpenedAt     time.Time
	WindowStart  time.Time
}

// Stats returns a point-in-time snapshot.
func (cb *CircuitBreaker) Stats() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:         cb.name,
		State:        cb.state,
		FailureCount: cb.failureCount,
		OpenedAt:     cb.openedAt,
		WindowStart:  cb.windowStart,
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.probing = false
}
