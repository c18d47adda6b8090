package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares processed ids between all replicas of a subscriber.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore returns a store on client. A non-positive ttl selects
// DefaultTTL.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedisStore connects to Redis and verifies the connection.
func OpenRedisStore(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisStore, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStore(client, ttl), client.Close, nil
}

func (s *RedisStore) Seen(ctx context.Context, subscriber, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, key(subscriber, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Mark(ctx context.Context, subscriber, eventID string) error {
	if err := s.client.SetNX(ctx, key(subscriber, eventID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe mark: %w", err)
	}
	return nil
}
