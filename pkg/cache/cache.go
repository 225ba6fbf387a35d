// Package cache is a JSON cache-aside layer over Redis that degrades to a
// no-op when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	rclient "github.com/jagrut-bhole/podcast/pkg/redis"
)

// Cache stores JSON values with optional TTL. Errors from Redis are logged and
// swallowed: a cache failure never fails the caller.
type Cache struct {
	client *rclient.Client
	logger *zap.Logger
}

// New creates a cache over client. A nil or disconnected client yields a no-op cache.
func New(client *rclient.Client, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, logger: logger}
}

// Connected reports whether the cache is backed by a reachable Redis.
func (c *Cache) Connected() bool {
	return c != nil && c.client.Connected()
}

// GetJSON decodes the value at key into dst. It reports false on a miss, on a
// decode error, or when the cache is disconnected.
func (c *Cache) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	if !c.Connected() {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cache decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// SetJSON stores value at key. ttl <= 0 stores without expiry.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !c.Connected() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Connected() || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// GetOrSet returns the cached value at key, or calls fetch, caches its result and returns it.
// fetch errors are returned to the caller and nothing is cached.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	fresh, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fetch %s: %w", key, err)
	}
	c.SetJSON(ctx, key, fresh, ttl)
	return fresh, nil
}

// MeetingChatsKey is the cache key for a meeting's chat history.
func MeetingChatsKey(meetingID string) string {
	return "chats:meeting:" + meetingID
}
