package databases

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"citegraph/internal/config"
)

// RedisCache implements Cache over a single-node redis.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache connects and pings. Returns nil when redis is disabled in
// config so callers can fall back to the in-memory cache.
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.client.Publish(ctx, topic, payload).Err()
}

func (c *RedisCache) Subscribe(ctx context.Context, topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)
	sub := c.client.Subscribe(ctx, topic)
	go func() {
		for msg := range sub.Channel() {
			select {
			case ch <- []byte(msg.Payload):
			default:
				log.Warn().Str("topic", topic).Msg("cache_subscriber_lagging_dropping_payload")
			}
		}
	}()
	cancel := func() {
		_ = sub.Close()
		close(ch)
	}
	return ch, cancel
}

func (c *RedisCache) Close() { _ = c.client.Close() }
