package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix  = "geolocal:artifact:"
	DefaultRedisChannel = "geolocal:artifact:updates"
	redisOpTimeout      = 30 * time.Second
)

// RedisStore keeps artifacts in Redis and announces every Put on a pub/sub
// channel so that serving instances can pull the new version.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string
}

// NewRedisStore returns a store using client. Empty prefix or channel fall
// back to the defaults.
func NewRedisStore(client *redis.Client, prefix, channel string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisStore{client: client, prefix: prefix, channel: channel}
}

// Put stores data under name and publishes name on the update channel.
func (s *RedisStore) Put(ctx context.Context, name string, data []byte) error {
	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	if err := s.client.Set(opCtx, s.prefix+name, data, 0).Err(); err != nil {
		return fmt.Errorf("redis store %s: %w", name, err)
	}
	if err := s.client.Publish(opCtx, s.channel, name).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", name, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, name string) ([]byte, error) {
	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	data, err := s.client.Get(opCtx, s.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}
	return data, nil
}

// Subscribe calls fn with the name of every artifact published after the
// subscription is established. It blocks until ctx is done.
func (s *RedisStore) Subscribe(ctx context.Context, fn func(name string)) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			slog.Error("artifact subscription error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		fn(msg.Payload)
	}
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= redisOpTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisOpTimeout)
}
