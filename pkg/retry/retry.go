// Package retry provides retry with exponential backoff and jitter.
// Designed for transient persistence failures (Postgres serialization
// conflicts, Redis timeouts). No external dependencies - uses only
// standard library.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Retryable wraps an error to indicate it should be retried.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// IsRetryable checks if an error was marked retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Permanent wraps an error to indicate it should never be retried,
// even when the policy's RetryIf would match it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent checks if an error was marked permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier grows the delay after each attempt.
	Multiplier float64

	// JitterFactor randomizes delays (0.0 = none, 1.0 = full jitter).
	JitterFactor float64

	// RetryIf decides whether an error is worth retrying.
	// If nil, only errors wrapped with Retryable are retried.
	RetryIf func(error) bool

	// OnRetry is called before each retry attempt, for logging.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns a Policy with sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// DatabasePolicy returns a Policy tuned for Postgres transaction retries.
// Short delays: serialization conflicts resolve quickly or not at all.
func DatabasePolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.05,
	}
}

// CachePolicy returns a Policy tuned for Redis operations.
func CachePolicy() Policy {
	return Policy{
		MaxAttempts:  2,
		InitialDelay: 25 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Do executes the operation under the policy. The operation is retried
// while it returns an error the policy considers transient, sleeping
// with exponential backoff between attempts.
func (p Policy) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return errors.Unwrap(err)
		}

		shouldRetry := IsRetryable(err)
		if p.RetryIf != nil {
			shouldRetry = p.RetryIf(err)
		}
		if !shouldRetry {
			return err
		}

		if attempt == p.MaxAttempts {
			if IsRetryable(err) {
				return errors.Unwrap(err)
			}
			return err
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}

	return lastErr
}

// delay computes the backoff for the given attempt with jitter applied.
func (p Policy) delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		base += base * p.JitterFactor * (rand.Float64()*2 - 1)
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// Do is a convenience wrapper using DefaultPolicy.
func Do(ctx context.Context, operation func(ctx context.Context) error) error {
	return DefaultPolicy().Do(ctx, operation)
}

// DoWithData runs an operation that returns a value under the policy.
func DoWithData[T any](ctx context.Context, p Policy, operation func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}
