package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the persistent, domain-scoped storage backend. Keys are
// namespaced by site domain and visitor so values survive cross-domain
// redirects and return visits, and expire like cookies would.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore scopes client to one domain/visitor pair.
func NewRedisStore(client *redis.Client, domain, visitorID string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: fmt.Sprintf("agent:%s:%s:", domain, visitorID),
	}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
