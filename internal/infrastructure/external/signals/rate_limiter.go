package signals

import (
	"context"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token bucket for the signal feed
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig configures the request rate towards the signal feed.
type RateLimiterConfig struct {
	// RequestsPerSecond is the maximum sustained request rate.
	RequestsPerSecond float64

	// BurstSize is how many requests may fire back to back.
	BurstSize int

	// MinInterval is the minimum spacing between requests, even with
	// tokens available.
	MinInterval time.Duration

	// WaitTimeout bounds how long Allow blocks waiting for a token.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults. The rollover
// jobs are batch work with no latency requirement, so there is no reason
// to hammer the feed.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 2.0,
		BurstSize:         5,
		MinInterval:       200 * time.Millisecond,
		WaitTimeout:       30 * time.Second,
	}
}

// RateLimiter is a token bucket with a minimum inter-request interval.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens   float64
	refillRate  float64
	tokens      float64
	lastRefill  time.Time
	minInterval time.Duration
	lastRequest time.Time
	waitTimeout time.Duration
}

// NewRateLimiter creates a RateLimiter. The bucket starts full and the
// first request is allowed immediately.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		maxTokens:   float64(config.BurstSize),
		refillRate:  config.RequestsPerSecond,
		tokens:      float64(config.BurstSize),
		lastRefill:  now,
		minInterval: config.MinInterval,
		lastRequest: now.Add(-config.MinInterval),
		waitTimeout: config.WaitTimeout,
	}
}

// RateLimitError reports that a request was throttled, either locally or
// by the feed itself (HTTP 429).
type RateLimitError struct {
	// RetryAfter is the suggested time to wait before retrying.
	RetryAfter time.Duration

	// Message provides additional context.
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Message
}

// Is implements errors.Is matching against any *RateLimitError.
func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}

// Allow blocks until a request may proceed, the wait timeout expires, or
// the context is cancelled.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := time.Now().Add(rl.waitTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		waitTime, ok := rl.tryAcquire()
		if ok {
			return nil
		}

		if time.Now().Add(waitTime).After(deadline) {
			return &RateLimitError{
				RetryAfter: waitTime,
				Message:    "rate limit exceeded, retry after " + waitTime.String(),
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// tryAcquire attempts to take a token. On failure it returns how long to
// wait before trying again.
func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillTokens()

	sinceLast := time.Since(rl.lastRequest)
	if sinceLast < rl.minInterval {
		return rl.minInterval - sinceLast, false
	}

	if rl.tokens < 1.0 {
		needed := 1.0 - rl.tokens
		return time.Duration(needed / rl.refillRate * float64(time.Second)), false
	}

	rl.tokens--
	rl.lastRequest = time.Now()
	return 0, true
}

// refillTokens adds tokens for the time elapsed since the last refill.
// Must be called with the lock held.
func (rl *RateLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// RecordRateLimitHit reacts to an HTTP 429 from the feed: the bucket is
// emptied and the sustained rate reduced so the client backs off harder
// than its own accounting would suggest.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = 0
	rl.refillRate *= 0.8
	rl.lastRequest = time.Now()
	if retryAfter > rl.minInterval {
		rl.minInterval = retryAfter
	}
}

// Reset restores the limiter to its initial state.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.lastRefill = time.Now()
	rl.lastRequest = time.Now().Add(-rl.minInterval)
}
