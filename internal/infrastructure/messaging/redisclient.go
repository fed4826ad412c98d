package messaging

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// GoRedisClient adapts go-redis to the RedisClient interface.
type GoRedisClient struct {
	client *redis.Client
}

// NewGoRedisClient wraps an existing go-redis client.
func NewGoRedisClient(client *redis.Client) *GoRedisClient {
	return &GoRedisClient{client: client}
}

// Publish sends a message to the channel.
func (c *GoRedisClient) Publish(ctx context.Context, channel string, message string) error {
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscribe opens a subscription and converts its stream to RedisMessage.
// The returned channel closes when ctx is cancelled.
func (c *GoRedisClient) Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error) {
	pubsub := c.client.Subscribe(ctx, channel)

	// Receive confirms the subscription before the first Publish can race it.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		defer pubsub.Close()

		src := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the underlying client.
func (c *GoRedisClient) Close() error {
	return c.client.Close()
}
