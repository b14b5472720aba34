package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithRedis(rdb), nil
}

// NewWithRedis wraps an existing redis client
func NewWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection, used by readiness probes
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func checkoutKey(userID int64, key string) string {
	return fmt.Sprintf("idempotency:checkout:%d:%s", userID, key)
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// GetCheckoutURL returns the authorization URL stored for a user's
// idempotency key. found is false when nothing is stored.
func (c *Client) GetCheckoutURL(ctx context.Context, userID int64, key string) (url string, found bool, err error) {
	url, err = c.rdb.Get(ctx, checkoutKey(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get idempotency key: %w", err)
	}
	return url, true, nil
}

// SetCheckoutURL stores the authorization URL under a user's idempotency key
func (c *Client) SetCheckoutURL(ctx context.Context, userID int64, key, url string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, checkoutKey(userID, key), url, ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// AcquireLock takes a distributed lock and returns the owner token needed to
// release it. ok is false when someone else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.New().String()
	ok, err = c.rdb.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock deletes the lock if token still owns it. A lock that expired
// and was taken by someone else is left alone.
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(name)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
