package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRedis = errors.New("redis: connection refused")

func fail(context.Context) error { return errRedis }
func ok(context.Context) error   { return nil }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []Transition
	cb := New("test",
		WithFailureThreshold(2),
		WithListener(func(tr Transition) { transitions = append(transitions, tr) }),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errRedis)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errRedis)
	assert.True(t, cb.IsOpen())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	require.Len(t, transitions, 1)
	assert.Equal(t, "test", transitions[0].Breaker)
	assert.Equal(t, StateClosed, transitions[0].From)
	assert.Equal(t, StateOpen, transitions[0].To)

	snap := cb.Snapshot()
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.Equal(t, 1, snap.Rejected)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := New("test", WithFailureThreshold(2))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ProbeClosesAfterCooldown(t *testing.T) {
	clock := newClock()
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithCooldown(10*time.Second),
		WithClock(clock.Now),
	)
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, fail), errRedis)
	require.True(t, cb.IsOpen())

	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := newClock()
	cb := New("test",
		WithFailureThreshold(3),
		WithCooldown(time.Second),
		WithClock(clock.Now),
	)
	ctx := context.Background()

	for range 3 {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(2 * time.Second)
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, clock.now, cb.Snapshot().OpenedAt)
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	clock := newClock()
	cb := New("test", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	entered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	close(release)
	wg.Wait()
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))

	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestForScoreCache(t *testing.T) {
	var got []State
	cb := ForScoreCache(func(tr Transition) { got = append(got, tr.To) })
	for range 3 {
		_ = cb.Execute(context.Background(), fail)
	}

	assert.Equal(t, "score_cache", cb.Name())
	assert.Equal(t, []State{StateOpen}, got)
}
