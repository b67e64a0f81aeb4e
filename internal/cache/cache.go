// Package cache implements the Cache (KV with TTL) component: a TTL-scoped
// key-value store with JSON helpers and a degraded no-op mode, backed by
// Redis when available.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist. A previously
// cached negative result is not a miss: Get returns the marker bytes, which
// IsNegative recognizes.
var ErrMiss = errors.New("cache: miss")

// Cache is the pluggable TTL key-value store every engine reads through.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically increments key by delta, creating it with ttl on first
	// use, and returns the post-increment value. Used by the rate limiter
	// and quota counters for atomic check-and-increment.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Close() error
}

// SetJSON marshals v and stores it under key with ttl.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, b, ttl)
}

// GetJSON reads key and unmarshals into dest. Returns ErrMiss on a cache miss.
func GetJSON(ctx context.Context, c Cache, key string, dest any) error {
	b, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

// negativeMarker is stored for cached "not found" results so a repeated
// lookup within the negative TTL window doesn't re-hit the upstream.
const negativeMarker = "\x00nil"

// SetNegative records a negative (not-found) result for ttl.
func SetNegative(ctx context.Context, c Cache, key string, ttl time.Duration) error {
	return c.Set(ctx, key, []byte(negativeMarker), ttl)
}

// IsNegative reports whether b is the negative-result marker.
func IsNegative(b []byte) bool {
	return string(b) == negativeMarker
}

// RedisCache wraps go-redis v9 as the production Cache implementation.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to addr and verifies connectivity with a ping.
// Callers decide whether to fall back to NoOp on error; the KV host is
// optional and degrades to a no-op cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("cache: redis connected", "addr", addr, "db", db)
	return &RedisCache{rdb: rdb}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *RedisCache) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
