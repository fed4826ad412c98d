package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/logger"
	"github.com/spool-edu/progress-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// Routes bus events to named handler registrations with panic recovery,
// retry and a dead letter queue. Side-effect handlers (cache invalidation,
// audit) are allowed to fail transiently; the DLQ captures what retries
// could not save so the worker can report it.
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher routes events from the bus to registered handlers.
type Dispatcher struct {
	bus         shared.EventBus
	retryPolicy retry.Policy
	deadLetters *DeadLetterQueue
	log         *logger.Logger

	mu       sync.RWMutex
	handlers map[shared.EventType][]registration
}

type registration struct {
	name    string
	handler shared.EventHandler
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	// Bus is the event bus to subscribe to.
	Bus shared.EventBus

	// RetryPolicy governs handler retries. Zero value means no retries.
	RetryPolicy retry.Policy

	// DeadLetterQueueSize bounds the DLQ; 0 disables it.
	DeadLetterQueueSize int

	// Logger for structured logging.
	Logger *logger.Logger
}

// DefaultDispatcherConfig returns defaults suitable for the worker.
func DefaultDispatcherConfig(bus shared.EventBus) DispatcherConfig {
	policy := retry.Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		// Side-effect handlers do not wrap errors; retry them all.
		RetryIf: func(err error) bool { return err != nil },
	}
	return DispatcherConfig{
		Bus:                 bus,
		RetryPolicy:         policy,
		DeadLetterQueueSize: 1000,
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	d := &Dispatcher{
		bus:         cfg.Bus,
		retryPolicy: cfg.RetryPolicy,
		log:         cfg.Logger.With(logger.Component("dispatcher")),
		handlers:    make(map[shared.EventType][]registration),
	}
	if cfg.DeadLetterQueueSize > 0 {
		d.deadLetters = NewDeadLetterQueue(cfg.DeadLetterQueueSize)
	}
	return d
}

// Register binds a named handler to an event type.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if name == "" {
		return errors.New("handler name cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], registration{name: name, handler: handler})
	return nil
}

// Start subscribes the dispatcher to the bus. Call after all Register calls.
func (d *Dispatcher) Start() error {
	return d.bus.SubscribeAll(d.Dispatch)
}

// Dispatch routes one event through every registered handler.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	regs := d.handlers[event.EventType()]
	d.mu.RUnlock()

	var errs []error
	for _, reg := range regs {
		if err := d.run(event, reg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", reg.name, err))
		}
	}
	return errors.Join(errs...)
}

// run executes one handler with recovery and retry.
func (d *Dispatcher) run(event shared.Event, reg registration) error {
	err := d.retryPolicy.Do(context.Background(), func(context.Context) error {
		return d.safeCall(event, reg)
	})
	if err == nil {
		return nil
	}

	if d.deadLetters != nil {
		d.deadLetters.Add(DeadLetterEntry{
			Event:       event,
			HandlerName: reg.name,
			Error:       err,
			FailedAt:    time.Now().UTC(),
		})
	}
	d.log.Error("handler exhausted retries",
		logger.String("handler", reg.name),
		logger.String("event_type", string(event.EventType())),
		logger.Err(err),
	)
	return err
}

// safeCall invokes the handler, converting panics to errors.
func (d *Dispatcher) safeCall(event shared.Event, reg registration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic recovered",
				logger.String("handler", reg.name),
				logger.String("event_type", string(event.EventType())),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return reg.handler(event)
}

// DeadLetters returns the dead letter queue (nil when disabled).
func (d *Dispatcher) DeadLetters() *DeadLetterQueue {
	return d.deadLetters
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry records an event a handler could not process.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	FailedAt    time.Time
}

// DeadLetterQueue is a bounded FIFO of failed events. When full, the
// oldest entry is dropped.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry, evicting the oldest when at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Size returns the number of queued entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
