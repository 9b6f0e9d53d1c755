package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
)

// RedisConfig configures the Redis connection backing the counts cache.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	// TTL bounds how long a generation's counts survive. Zero keeps them
	// until eviction.
	TTL       time.Duration
	KeyPrefix string
}

// DefaultKeyPrefix namespaces every counts cache key.
const DefaultKeyPrefix = "ppdo:search:"

// RedisClient caches category counts under an index generation counter.
// Every index write bumps the generation, so readers never see counts
// computed before the write.
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ search.CountsCache = (*RedisClient)(nil)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(config RedisConfig) (*RedisClient, error) {
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisClient{client: client, ttl: config.TTL, prefix: prefix}, nil
}

func (c *RedisClient) generationKey() string {
	return c.prefix + "generation"
}

func (c *RedisClient) countsKey(generation int64, key string) string {
	return c.prefix + "counts:" + strconv.FormatInt(generation, 10) + ":" + key
}

// Generation implements search.CountsCache. A missing counter is generation 0.
func (c *RedisClient) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Bump implements search.CountsCache.
func (c *RedisClient) Bump(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("redis bump generation failed: %w", err)
	}
	return nil
}

// Get implements search.CountsCache. A miss returns ok == false and no error.
func (c *RedisClient) Get(ctx context.Context, generation int64, key string) (map[search.EntityType]int, bool, error) {
	k := c.countsKey(generation, key)
	data, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var counts map[search.EntityType]int
	if err := json.Unmarshal(data, &counts); err != nil {
		// Drop corrupt entries so the next read recomputes.
		c.client.Del(ctx, k)
		return nil, false, fmt.Errorf("failed to unmarshal counts: %w", err)
	}
	return counts, true, nil
}

// Set implements search.CountsCache.
func (c *RedisClient) Set(ctx context.Context, generation int64, key string, counts map[search.EntityType]int) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	return c.client.Set(ctx, c.countsKey(generation, key), data, c.ttl).Err()
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying Redis client for health checks
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// GetPoolStats returns connection pool statistics
func (c *RedisClient) GetPoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}
