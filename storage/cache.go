package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"gtdsync/domain"
)

// Cache keeps the last loaded snapshot of each user's collections in Redis so
// reconnecting listeners do not all hit table storage. Writes evict.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a snapshot cache. A nil client or zero ttl disables it.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{redis: client, ttl: ttl}
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func projectsCacheKey(userID string) string {
	return "projects:" + userID
}

// cached returns the snapshot under key, loading and storing it on a miss.
func cached[T any](ctx context.Context, c *Cache, key string, load func(ctx context.Context) ([]T, error)) ([]T, error) {
	if items, ok := loadFromCache[T](ctx, c, key); ok {
		return items, nil
	}
	items, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, items)
	return items, nil
}

func loadFromCache[T any](ctx context.Context, c *Cache, key string) ([]T, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to table storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var items []T
	if err := sonic.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) store(ctx context.Context, key string, items any) {
	if c == nil || c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c == nil || c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func (c *Cache) tasks(ctx context.Context, userID string, load func(ctx context.Context) ([]domain.Task, error)) ([]domain.Task, error) {
	return cached(ctx, c, tasksCacheKey(userID), load)
}

func (c *Cache) projects(ctx context.Context, userID string, load func(ctx context.Context) ([]domain.Project, error)) ([]domain.Project, error) {
	return cached(ctx, c, projectsCacheKey(userID), load)
}
