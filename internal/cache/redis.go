package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantbilling/internal/observability/metrics"
)

// RedisCache shares cached entries across replicas.
type RedisCache struct {
	client  redis.UniversalClient
	metrics *metrics.Metrics
}

func NewRedisCache(client redis.UniversalClient, m *metrics.Metrics) *RedisCache {
	return &RedisCache{client: client, metrics: m}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrInvalidKey
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCacheLookup(keyFamily(key), false)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.metrics.RecordCacheLookup(keyFamily(key), true)

	if err := json.Unmarshal(payload, dest); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	return c.client.Del(ctx, key).Err()
}

var _ Cache = (*RedisCache)(nil)
