package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// DefaultKeyPrefix namespaces permission entries in Redis
const DefaultKeyPrefix = "rbac:perms:"

// RedisConfig configures a RedisCache
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	TTL        time.Duration
	KeyPrefix  string
}

// RedisCache is an rbac.PermissionCache shared through Redis.
// Entries are JSON-encoded permission lists stored with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache connects to Redis and returns a cache over it
func NewRedisCache(ctx context.Context, config RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheFromClient(client, config.TTL, config.KeyPrefix), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{client: client, ttl: ttl, prefix: prefix}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + userID
}

// Get returns the cached permissions for userID. Corrupt entries are deleted
// and reported as a miss.
func (c *RedisCache) Get(ctx context.Context, userID string) ([]rbac.PermissionInfo, bool, error) {
	key := c.key(userID)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false, nil
	} else if err != nil {
		c.misses.Add(1)
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var perms []rbac.PermissionInfo
	if err := json.Unmarshal(data, &perms); err != nil {
		c.client.Del(ctx, key)
		c.misses.Add(1)
		return nil, false, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	c.hits.Add(1)
	if perms == nil {
		perms = []rbac.PermissionInfo{}
	}
	return perms, true, nil
}

// Set stores perms for userID
func (c *RedisCache) Set(ctx context.Context, userID string, perms []rbac.PermissionInfo) error {
	if perms == nil {
		perms = []rbac.PermissionInfo{}
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return c.client.Set(ctx, c.key(userID), data, c.ttl).Err()
}

// Invalidate drops userID's entry
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}

// Purge deletes every entry under the key prefix
func (c *RedisCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for prefix %s: %w", c.prefix, err)
	}
	return nil
}

// Stats returns hit and miss counters. ItemCount is not tracked.
func (c *RedisCache) Stats() Stats {
	return newStats(c.hits.Load(), c.misses.Load(), 0)
}

// Ping checks Redis connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for health checks
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
