package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset")

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	var seen []Attempt
	p := Policy{
		Attempts:  5,
		BaseDelay: time.Millisecond,
		OnRetry:   func(a Attempt) { seen = append(seen, a) },
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, seen, 2)
	assert.Equal(t, 1, seen[0].Number)
	assert.Equal(t, 2, seen[1].Number)
	assert.ErrorIs(t, seen[0].Err, errTransient)
}

func TestPolicy_ZeroValueTriesOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestPolicy_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 5, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errTransient)
	})

	assert.ErrorIs(t, err, errTransient)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestForStore_UsesPredicate(t *testing.T) {
	domainErr := errors.New("already claimed")
	p := ForStore(3, time.Millisecond, func(err error) bool { return !errors.Is(err, domainErr) })

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return domainErr
	})
	assert.ErrorIs(t, err, domainErr)
	assert.Equal(t, 1, calls)

	calls = 0
	err = p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := ForCache().Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestForCache_DoesNotRetryCancellation(t *testing.T) {
	calls := 0
	err := ForCache().Do(context.Background(), func(context.Context) error {
		calls++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicy_BackoffIsCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 3*time.Second, p.Backoff(5))
}
