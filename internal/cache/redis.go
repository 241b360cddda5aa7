package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"listsync/internal/models"
	"listsync/pkg/logger"
)

const listsCacheKey = "lists:all"

// NewClient parses url, applies the pool size and pings the server.
func NewClient(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info(ctx, "Redis client initialized", "pool_size", opts.PoolSize)
	return client, nil
}

// Lists caches the list-of-lists read. A nil client turns every call into a
// miss, so the service still works without Redis.
type Lists struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLists(client *redis.Client, ttl time.Duration) *Lists {
	return &Lists{client: client, ttl: ttl}
}

// Get returns (nil, false) on miss or error.
func (c *Lists) Get(ctx context.Context) ([]models.List, bool) {
	if c.client == nil {
		return nil, false
	}
	b, err := c.client.Get(ctx, listsCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logger.Debug(ctx, "Redis get lists failed", "error", err)
		return nil, false
	}
	var lists []models.List
	if err := json.Unmarshal(b, &lists); err != nil {
		logger.Debug(ctx, "Redis unmarshal lists failed", "error", err)
		return nil, false
	}
	return lists, true
}

// Set stores lists with the configured TTL.
func (c *Lists) Set(ctx context.Context, lists []models.List) {
	if c.client == nil {
		return
	}
	b, err := json.Marshal(lists)
	if err != nil {
		logger.Debug(ctx, "Marshal lists for cache failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, listsCacheKey, b, c.ttl).Err(); err != nil {
		logger.Debug(ctx, "Redis set lists failed", "error", err)
	}
}

// Invalidate deletes the cached read so the next Get goes to the database.
func (c *Lists) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, listsCacheKey).Err(); err != nil {
		logger.Debug(ctx, "Redis invalidate lists failed", "error", err)
	}
}
