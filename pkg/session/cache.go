package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by a PathCache without an entry.
var ErrCacheMiss = errors.New("session: cache miss")

// PathCache maps an account identity to the blob path of its latest
// session. Entries are advisory: the store re-validates what it loads.
type PathCache interface {
	Get(ctx context.Context, account string) (string, error)
	Set(ctx context.Context, account, path string, ttl time.Duration) error
	Delete(ctx context.Context, account string) error
}

// RedisCache implements PathCache on Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache. Keys are "<prefix>session-path:<account>".
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(account string) string {
	return c.prefix + "session-path:" + account
}

// Get returns the cached path for account.
func (c *RedisCache) Get(ctx context.Context, account string) (string, error) {
	path, err := c.client.Get(ctx, c.key(account)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("session: cache get: %w", err)
	}
	return path, nil
}

// Set caches path until ttl elapses. Non-positive ttls delete the entry.
func (c *RedisCache) Set(ctx context.Context, account, path string, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, account)
	}
	if err := c.client.Set(ctx, c.key(account), path, ttl).Err(); err != nil {
		return fmt.Errorf("session: cache set: %w", err)
	}
	return nil
}

// Delete removes the entry for account.
func (c *RedisCache) Delete(ctx context.Context, account string) error {
	if err := c.client.Del(ctx, c.key(account)).Err(); err != nil {
		return fmt.Errorf("session: cache delete: %w", err)
	}
	return nil
}
