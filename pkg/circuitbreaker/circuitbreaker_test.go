package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("connection refused")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func newBreaker(clock *fakeClock, transitions *[]string) *CircuitBreaker {
	return New("cache",
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithCoolDown(10*time.Second),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, from, to State) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		}),
	)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := newBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State(), "a success resets the failure streak")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, called)
	assert.Equal(t, 1, cb.Counts().Rejected)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := newBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(10 * time.Second)

	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrTooManyProbes, "one probe at a time")
	cb.Record(nil)

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := newBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(11 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(5 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen, "cool-down restarts from the failed probe")
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := New("cache", WithFailureThreshold(1))
	ctx := context.Background()

	err := cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}
