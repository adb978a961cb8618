package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which Idempotency-Key values a user has already spent.
type Deduper interface {
	// Claim spends key for userID. It reports false if the key was spent
	// before and has not expired or been released.
	Claim(ctx context.Context, userID, key string) (bool, error)
	Release(ctx context.Context, userID, key string) error
}

// RedisDeduper keeps claimed keys in Redis, shared by every API instance.
// Keys expire after ttl.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func claimKey(userID, key string) string { return "idem:" + userID + ":" + key }

func (r *RedisDeduper) Claim(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, claimKey(userID, key), time.Now().UnixMilli(), r.ttl).Result()
}

// Release hands key back, for commands that were rejected or whose write
// failed.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, claimKey(userID, key)).Err()
}
