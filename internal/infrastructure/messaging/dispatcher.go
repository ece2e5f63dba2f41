package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/pkg/logger"
	"github.com/neuroswitch/progression-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Handler reacts to one event. The context carries the registration timeout.
type Handler func(ctx context.Context, event shared.Event) error

// Registration contains handler metadata.
type Registration struct {
	Name    string
	Handler Handler

	// MaxAttempts includes the first call. Zero means a single attempt.
	MaxAttempts int

	// Timeout bounds each attempt. Zero means DefaultHandlerTimeout.
	Timeout time.Duration
}

// DefaultHandlerTimeout bounds a handler attempt when none is configured.
const DefaultHandlerTimeout = 5 * time.Second

// Dispatcher routes bus events to named handlers with retries, a per-attempt
// timeout, panic recovery and a dead letter queue.
type Dispatcher struct {
	bus         shared.EventSubscriber
	handlers    map[shared.EventType][]Registration
	deadLetterQ *DeadLetterQueue
	log         *logger.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
}

// NewDispatcher creates a dispatcher on top of bus.
func NewDispatcher(bus shared.EventSubscriber, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		bus:         bus,
		handlers:    make(map[shared.EventType][]Registration),
		deadLetterQ: NewDeadLetterQueue(256),
		log:         log.With(logger.Component("dispatcher")),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// RegisterHandler registers a handler for an event type.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg Registration) error {
	if reg.Handler == nil {
		return ErrNilHandler
	}
	if reg.Name == "" {
		return errors.New("handler name is required")
	}
	if reg.MaxAttempts <= 0 {
		reg.MaxAttempts = 1
	}
	if reg.Timeout <= 0 {
		reg.Timeout = DefaultHandlerTimeout
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], reg)
	d.log.Debug("registered handler",
		logger.String("handler", reg.Name),
		logger.String("event_type", string(eventType)),
	)
	return nil
}

// Register is a convenience method for a single-attempt handler.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler Handler) error {
	return d.RegisterHandler(eventType, Registration{Name: name, Handler: handler})
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Start subscribes the dispatcher to every event on the bus. It is
// idempotent.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	return d.bus.SubscribeAll(d.Dispatch)
}

// Dispatch runs every handler registered for the event type in
// registration order and joins their errors.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	regs := d.handlers[event.EventType()]
	d.mu.RUnlock()

	var errs []error
	for _, reg := range regs {
		if err := d.execute(event, reg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) execute(event shared.Event, reg Registration) error {
	log := d.log.With(
		logger.String("handler", reg.Name),
		logger.String("event_type", string(event.EventType())),
	)

	policy := retry.Policy{
		Attempts:  reg.MaxAttempts,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
		Transient: func(err error) bool { return !shared.IsDomain(err) },
		OnRetry: func(a retry.Attempt) {
			log.Warn("handler attempt failed",
				logger.Int("attempt", a.Number),
				logger.Duration("backoff", a.Backoff),
				logger.Err(a.Err),
			)
		},
	}

	err := policy.Do(d.ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, reg.Timeout)
		defer cancel()
		return recoverHandler(attemptCtx, reg.Handler, event)
	})
	if err == nil {
		return nil
	}

	d.deadLetterQ.Add(DeadLetterEntry{
		Event:       event,
		HandlerName: reg.Name,
		Error:       err,
		Attempts:    reg.MaxAttempts,
		FailedAt:    time.Now(),
	})
	return fmt.Errorf("handler %s: %w", reg.Name, err)
}

func recoverHandler(ctx context.Context, h Handler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack()))
		}
	}()
	return h(ctx, event)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Stop cancels in-flight retries.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.log.Info("dispatcher stopped")
}

// DeadLetterQueue returns the dead letter queue.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents an event a handler gave up on.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue keeps the most recent failures, oldest dropped first.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add adds an entry to the queue.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of the queued entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of queued entries.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
