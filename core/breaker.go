package core

import "context"

// Breaker isolates calls to one external dependency. Execute runs the thunk
// unless the breaker is open, in which case it fails fast with a
// KindCircuitOpen error. Exceptions from the thunk are never swallowed.
type Breaker interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
	// Allow checks admission without running anything; callers that need
	// to inspect results pair it with Mark.
	Allow() error
	// Mark records an outcome: nil for success, non-nil for failure.
	Mark(err error)
}

// BreakerFactory hands out the breaker for a named dependency, creating it
// on first use. Agents obtain breakers for their own dependencies through
// the ExecutionContext so every agent gets uniform failure isolation.
type BreakerFactory interface {
	Breaker(name string) Breaker
}
