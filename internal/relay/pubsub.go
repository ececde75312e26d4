package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PubSub is a thin go-redis wrapper.
type PubSub struct {
	client *redis.Client
}

// NewPubSub connects to Redis and verifies the connection.
func NewPubSub(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay.NewPubSub: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

// Close closes the Redis client.
func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("relay.PubSub.Close: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (ps *PubSub) Ping(ctx context.Context) error {
	return ps.client.Ping(ctx).Err()
}

// Publish sends payload on channel.
func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("relay.PubSub.Publish: %w", err)
	}
	return nil
}
