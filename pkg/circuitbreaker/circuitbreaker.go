// Package circuitbreaker implements the Circuit Breaker pattern.
// It keeps a flapping Redis or Postgres from dragging the whole event
// pipeline down: after enough consecutive failures calls fail fast
// until the backend shows signs of life again.
// No external dependencies - uses only standard library.
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
	// StateClosed is the normal state - requests are allowed through.
	StateClosed State = iota
	// StateOpen is the failure state - requests are blocked.
	StateOpen
	// StateHalfOpen is the recovery state - limited probe requests allowed.
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

// ErrCircuitOpen is returned when the circuit is open and calls are blocked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies this breaker in logs.
	Name string

	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open
	// state before closing.
	SuccessThreshold int

	// CoolDown is how long the circuit stays open before allowing a probe.
	CoolDown time.Duration

	// IsFailure decides whether an error counts against the circuit.
	// If nil, every non-nil error counts. Domain errors like "not found"
	// should not trip the breaker.
	IsFailure func(error) bool

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(name string, from, to State)
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	failures   int
	successes  int
	openedAt   time.Time
	probeInUse bool
}

// New creates a Breaker, filling in defaults for zero-valued fields.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// ForCache returns a breaker tuned for Redis reads: opens fast and
// recovers fast, because callers have a database fallback.
func ForCache(name string, onStateChange func(name string, from, to State)) *Breaker {
	return New(Config{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		CoolDown:         10 * time.Second,
		OnStateChange:    onStateChange,
	})
}

// ForDatabase returns a breaker tuned for Postgres operations.
func ForDatabase(name string, onStateChange func(name string, from, to State)) *Breaker {
	return New(Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         15 * time.Second,
		OnStateChange:    onStateChange,
	})
}

// Execute runs fn if the circuit allows it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.record(err, probe)
	return err
}

// ExecuteWithFallback runs fn, calling fallback when the circuit is open.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := b.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) {
		return fallback(err)
	}
	return err
}

// acquire checks whether a call may proceed. The returned bool reports
// whether this call is the half-open probe.
func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.CoolDown {
			return false, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probeInUse = true
		return true, nil

	case StateHalfOpen:
		if b.probeInUse {
			return false, ErrCircuitOpen
		}
		b.probeInUse = true
		return true, nil

	default:
		return false, ErrCircuitOpen
	}
}

// record updates the circuit with the outcome of a call.
func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInUse = false
	}

	failed := err != nil
	if failed && b.cfg.IsFailure != nil {
		failed = b.cfg.IsFailure(err)
	}

	if failed {
		b.onFailure()
	} else {
		b.onSuccess()
	}
}

func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) onFailure() {
	b.successes = 0
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		// Probe failed, back to open with a fresh cooldown.
		b.setState(StateOpen)
	}
}

// setState transitions to a new state. Caller must hold the mutex.
func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	b.failures = 0
	b.successes = 0
	b.probeInUse = false
	if newState == StateOpen {
		b.openedAt = time.Now()
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, old, newState)
	}
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the name of the circuit breaker.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Reset returns the breaker to the closed state with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probeInUse = false
}
