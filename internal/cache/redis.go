package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyBlockTimestamp = "block:ts:"

// RedisConfig configures the Redis timestamp cache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL of zero keeps entries forever; block timestamps never change once final.
	TTL time.Duration
}

// RedisTimestampCache stores block timestamps in Redis so that several processes share lookups.
type RedisTimestampCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisTimestampCache connects to Redis and verifies the connection.
func NewRedisTimestampCache(cfg RedisConfig) (*RedisTimestampCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisTimestampCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

// NewRedisTimestampCacheWithClient wraps an existing client.
func NewRedisTimestampCacheWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisTimestampCache {
	return &RedisTimestampCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (c *RedisTimestampCache) key(number uint64) string {
	return c.keyPrefix + keyBlockTimestamp + strconv.FormatUint(number, 10)
}

// Get returns the cached timestamp for a block number.
func (c *RedisTimestampCache) Get(ctx context.Context, number uint64) (uint64, bool, error) {
	val, err := c.client.Get(ctx, c.key(number)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}

	ts, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached timestamp %q: %w", val, err)
	}
	return ts, true, nil
}

// Set stores the timestamp for a block number.
func (c *RedisTimestampCache) Set(ctx context.Context, number uint64, ts uint64) error {
	if err := c.client.Set(ctx, c.key(number), strconv.FormatUint(ts, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisTimestampCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
