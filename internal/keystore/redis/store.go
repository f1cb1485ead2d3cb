// Package redis implements keystore.Store on a Redis server. Correctness of
// concurrent counting is delegated to Redis: INCR is atomic, and the
// INCR+EXPIRE pair runs in a single transactional pipeline.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sendgate/sendgate/internal/keystore"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is a Redis-backed implementation of keystore.Store.
type Store struct {
	client *redis.Client
}

var _ keystore.Store = (*Store)(nil)

// New connects a Store to the Redis server described by cfg.
func New(cfg Config) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}),
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", keystore.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// IncrWithTTL increments key and sets its expiry only when the key has none,
// i.e. on the increment that created it. All commands execute in one
// MULTI/EXEC round trip so a crash in between cannot strand an immortal
// counter. The returned duration is the key's remaining TTL after the
// increment, so callers see the true window expiry rather than a fresh ttl.
func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	remaining := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	ttlLeft := remaining.Val()
	if ttlLeft < 0 {
		// -1 (no expiry) or -2 (missing key) never describe a live window.
		ttlLeft = 0
	}
	return incr.Val(), ttlLeft, nil
}
