package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

var errBoom = errors.New("boom")

// fakeClock lets tests advance breaker time without sleeping.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int, reset, window time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb := New("llm", func(o *Options) {
		o.FailureThreshold = threshold
		o.ResetTimeout = reset
		o.Window = window
		o.clock = clock.Now
	})
	return cb, clock
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func(context.Context) error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Fails fast without invoking the thunk.
	invoked := false
	err := cb.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	assert.True(t, core.IsKind(err, core.KindCircuitOpen))
	assert.False(t, invoked)
}

func TestBreakerWindowExpiryResetsCount(t *testing.T) {
	cb, clock := newTestBreaker(3, 30*time.Second, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })

	// Past the window the old failures no longer count.
	clock.Advance(2 * time.Minute)
	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errBoom }))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)
	err := cb.Execute(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errBoom }))
	clock.Advance(31 * time.Second)
	require.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// A fresh openedAt means the reset timeout starts over.
	clock.Advance(29 * time.Second)
	err := cb.Allow()
	assert.True(t, core.IsKind(err, core.KindCircuitOpen))
}

func TestBreakerSingleHalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second, time.Minute)
	require.Error(t, cb.Execute(context.Background(), func(context.Context) error { return errBoom }))
	clock.Advance(31 * time.Second)

	// First Allow admits the probe, second is rejected while it is in flight.
	require.NoError(t, cb.Allow())
	err := cb.Allow()
	assert.True(t, core.IsKind(err, core.KindCircuitOpen))

	cb.Mark(nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerPanickingProbeDoesNotWedge(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errBoom }))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)
	require.Panics(t, func() {
		_ = cb.Execute(ctx, func(context.Context) error { panic("briefer blew up") })
	})

	// The panicking probe counts as a failure and reopens the circuit
	// instead of leaving the probe slot occupied forever.
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerSuccessResetsClosedCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())
}

func TestDoReturnsValue(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second, time.Minute)

	got, err := Do(context.Background(), cb, func(context.Context) (string, error) {
		return "hello", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = Do(context.Background(), cb, func(context.Context) (string, error) {
		return "", errBoom
	})
	assert.ErrorIs(t, err, errBoom)
}

func TestDoRecordsPanicAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(2, 30*time.Second, time.Minute)

	require.Panics(t, func() {
		_, _ = Do(context.Background(), cb, func(context.Context) (string, error) {
			panic("boom")
		})
	})
	assert.Equal(t, 1, cb.Stats().FailureCount)
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	reg := NewRegistry()
	a := reg.Get("weather")
	b := reg.Get("weather")
	assert.Same(t, a, b)
	assert.NotSame(t, a, reg.Get("calendar"))

	var factory core.BreakerFactory = reg
	assert.NotNil(t, factory.Breaker("weather"))
	assert.Len(t, reg.Stats(), 2)
}
