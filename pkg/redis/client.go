package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps go-redis client with the connectivity observed at startup.
// A disconnected Client is still usable: callers check Connected and degrade
// (cache misses, synchronous cleanup) instead of failing requests.
type Client struct {
	*redis.Client
	connected bool
	logger    *zap.Logger
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Client, error) {
	c := Connect(ctx, addr, password, db, logger)
	if !c.connected {
		return c, fmt.Errorf("redis ping %s: unreachable", addr)
	}
	return c, nil
}

// Connect creates a Redis client and pings it once. It never fails: on an
// unreachable server the returned Client reports Connected() == false.
func Connect(ctx context.Context, addr, password string, db int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis not available, caching and queued cleanup disabled", zap.String("addr", addr), zap.Error(err))
		return &Client{Client: rdb, connected: false, logger: logger}
	}

	logger.Info("Redis client connected", zap.String("addr", addr))
	return &Client{Client: rdb, connected: true, logger: logger}
}

// Wrap adopts an existing go-redis client as connected (tests, shared pools).
func Wrap(rdb *redis.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{Client: rdb, connected: true, logger: logger}
}

// Connected reports whether the startup ping succeeded.
func (c *Client) Connected() bool {
	return c != nil && c.connected
}
