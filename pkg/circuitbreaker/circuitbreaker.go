// Package circuitbreaker stops calling a dependency that keeps failing.
// The engine puts one in front of the Redis score cache: while it is open,
// cache reads and invalidations fail fast and callers go to the store.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// ErrCircuitOpen is returned without calling the dependency.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Transition describes one state change.
type Transition struct {
	Breaker string
	From    State
	To      State
	At      time.Time
}

// Snapshot is a point-in-time view used by health checks and metrics.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	Rejected            int
}

type settings struct {
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	now              func() time.Time
	listener         func(Transition)
}

// Option configures a CircuitBreaker.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many successful probes close it again.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before probing.
func WithCooldown(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithListener registers a callback for state changes. It runs under the
// breaker's lock and must not call back into the breaker.
func WithListener(fn func(Transition)) Option {
	return func(s *settings) {
		s.listener = fn
	}
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	probeInFlight bool
	rejected      int
}

// New creates a closed breaker. Defaults: 5 failures, 2 probes, 30s cooldown.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		cooldown:         30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// ForScoreCache returns the breaker used in front of the Redis cache: it
// opens quickly and probes again after 15 seconds.
func ForScoreCache(listener func(Transition)) *CircuitBreaker {
	return New("score_cache",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithCooldown(15*time.Second),
		WithListener(listener),
	)
}

// Execute runs fn unless the circuit is open. Context cancellation is the
// caller giving up and does not count as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.record(probe, err != nil && !errors.Is(err, context.Canceled))
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.cooldown {
		cb.transition(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if !cb.probeInFlight {
			cb.probeInFlight = true
			return true, nil
		}
	}
	cb.rejected++
	return false, ErrCircuitOpen
}

func (cb *CircuitBreaker) record(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
	}

	if failed {
		cb.successes = 0
		cb.failures++
		// A failed probe reopens at once.
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.failureThreshold {
			cb.openedAt = cb.cfg.now()
			cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.successThreshold {
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.successes = 0
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.cfg.listener != nil {
		cb.cfg.listener(Transition{Breaker: cb.name, From: from, To: to, At: cb.cfg.now()})
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		OpenedAt:            cb.openedAt,
		Rejected:            cb.rejected,
	}
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}
