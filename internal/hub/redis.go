package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultChannel is the Pub/Sub channel status events travel on.
const DefaultChannel = "autoreply:status"

// RedisRelay shares status events between instances over Redis Pub/Sub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisRelay connects to the Redis server at url.
func NewRedisRelay(ctx context.Context, url string, logger *zap.Logger) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisRelayWithClient(client, DefaultChannel, logger), nil
}

// NewRedisRelayWithClient uses an existing client.
func NewRedisRelayWithClient(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, logger: logger.Named("relay")}
}

// Publish sends data to every subscribed instance.
func (r *RedisRelay) Publish(ctx context.Context, data []byte) error {
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Listen delivers relayed payloads until ctx is done.
func (r *RedisRelay) Listen(ctx context.Context, deliver func(data []byte)) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	r.logger.Info("listening for relayed status events", zap.String("channel", r.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			deliver([]byte(msg.Payload))
		}
	}
}

// Close closes the Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
