package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache stores JSON encoded values under a common prefix.
type Cache struct {
	rdb goredis.UniversalClient
}

func NewCache(rdb goredis.UniversalClient) *Cache {
	return &Cache{rdb: rdb}
}

func cacheKey(key string) string {
	return keyPrefix + "cache:" + key
}

// Get decodes the cached value into dest and reports whether there was one.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(key), b, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, cacheKey(key)).Err()
}
