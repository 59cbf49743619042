package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTransport fans out over Redis Pub/Sub. Messages have no size limit, so no attachments.
type RedisTransport struct {
	client  *redis.Client
	channel string
}

// NewRedisTransport returns a transport on channel.
func NewRedisTransport(client *redis.Client, channel string) *RedisTransport {
	return &RedisTransport{client: client, channel: channel}
}

// OpenRedis parses url and returns a client. The client connects lazily, so an unreachable server
// surfaces on the first publish or listen rather than here.
func OpenRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("bus: parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (t *RedisTransport) Publish(ctx context.Context, msg []byte) error {
	if err := t.client.Publish(ctx, t.channel, msg).Err(); err != nil {
		return fmt.Errorf("bus: redis publish: %w", err)
	}
	return nil
}

func (t *RedisTransport) Listen(ctx context.Context, ready func(), deliver func([]byte)) error {
	sub := t.client.Subscribe(ctx, t.channel)
	defer sub.Close()

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("bus: redis subscribe: %w", err)
	}
	ready()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("bus: redis subscription closed")
			}
			deliver([]byte(m.Payload))
		}
	}
}
