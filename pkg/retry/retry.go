// Package retry runs idempotent operations again after transient failures,
// with exponential backoff and jitter. The engine retries store transactions
// (lesson finalize, daily claim, registration), event handlers and cache
// round-trips with it.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// PermanentError stops retrying regardless of the policy.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	// Number is 1 for the first call.
	Number  int
	Err     error
	Backoff time.Duration
}

// Policy describes how an operation is retried. The zero value makes a
// single attempt.
type Policy struct {
	// Attempts bounds the calls, including the first.
	Attempts int

	// BaseDelay is the wait after the first failure; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the wait. Zero means no cap.
	MaxDelay time.Duration

	// Jitter spreads each wait by ±Jitter of its value (0..1).
	Jitter float64

	// Transient selects errors worth retrying. Nil retries every error
	// except context cancellation.
	Transient func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(Attempt)
}

// Do calls op until it succeeds, returns a non-transient error, the attempts
// run out or ctx is done. The last error from op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if !p.transient(err) || n == attempts {
			return err
		}

		backoff := p.Backoff(n)
		if p.OnRetry != nil {
			p.OnRetry(Attempt{Number: n, Err: err, Backoff: backoff})
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

func (p Policy) transient(err error) bool {
	if p.Transient != nil {
		return p.Transient(err)
	}
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the wait after the given failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

// ForStore is the policy for store transactions. Only errors accepted by
// transient are retried; domain rejections must not be.
func ForStore(attempts int, baseDelay time.Duration, transient func(error) bool) Policy {
	return Policy{
		Attempts:  attempts,
		BaseDelay: baseDelay,
		MaxDelay:  2 * time.Second,
		Jitter:    0.1,
		Transient: transient,
	}
}

// ForCache is the policy for cache round-trips: one quick retry.
func ForCache() Policy {
	return Policy{
		Attempts:  2,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  100 * time.Millisecond,
		Jitter:    0.05,
	}
}
