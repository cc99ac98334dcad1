package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
)

// RedisCache remembers accepted event identifiers so repeated deliveries of the
// same upstream batch are rejected without a database lookup
type RedisCache struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
		ttl:     cfg.EventTTL,
	}, nil
}

// Enabled reports whether the cache is backed by Redis
func (c *RedisCache) Enabled() bool {
	return c != nil && c.enabled
}

// Seen reports whether the event identifier was accepted before. A disabled
// cache never has seen anything.
func (c *RedisCache) Seen(ctx context.Context, eventID string) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	n, err := c.client.Exists(ctx, EventCacheKey(eventID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check event in Redis")
	}
	return n > 0, nil
}

// Remember records accepted event identifiers for the configured TTL
func (c *RedisCache) Remember(ctx context.Context, eventIDs []string) error {
	if !c.Enabled() || len(eventIDs) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, id := range eventIDs {
		pipe.Set(ctx, EventCacheKey(id), 1, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to remember events in Redis")
	}
	return nil
}

// EventCacheKey generates the cache key of an ingested event
func EventCacheKey(eventID string) string {
	return fmt.Sprintf("event:%s", eventID)
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.Enabled() || c.client == nil {
		return nil
	}
	return c.client.Close()
}
