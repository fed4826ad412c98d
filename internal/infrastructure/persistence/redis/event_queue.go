// Package redis implements Redis-backed caching and queueing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT QUEUE
// A plain Redis list carries incoming learning events into the worker.
// Producers LPUSH serialized events; the worker BRPOPs them in order.
// Deduplication happens downstream, so at-least-once delivery is enough.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultQueueKey is the intake queue for learning events.
const DefaultQueueKey = PrefixQueue + "learning-events"

// EventQueue is a list-backed intake queue.
type EventQueue struct {
	client *redis.Client
	key    string
}

// NewEventQueue creates a queue over an existing client.
// An empty key falls back to DefaultQueueKey.
func NewEventQueue(cache *Cache, key string) *EventQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &EventQueue{client: cache.Client(), key: key}
}

// Enqueue pushes a serialized event onto the queue.
func (q *EventQueue) Enqueue(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return errors.New("queue: empty payload")
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: failed to enqueue: %w", err)
	}
	return nil
}

// Dequeue pops the oldest event, blocking up to timeout.
// Returns ErrQueueEmpty when the timeout elapses with no payload.
func (q *EventQueue) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("queue: failed to dequeue: %w", err)
	}

	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: unexpected BRPOP reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

// Length returns the number of pending events.
func (q *EventQueue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: failed to read length: %w", err)
	}
	return n, nil
}
