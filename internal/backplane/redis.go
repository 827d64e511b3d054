// Package backplane wraps the optional Redis-backed cross-instance
// coordination used by the Document Registry (distributed creation lock)
// and the Admin Surface (cross-instance presence snapshot, read with
// ListPresence; nothing in collabd itself calls PutPresence). Both consumers
// degrade gracefully when Redis is disabled: the Registry falls back to
// in-process-only single-flight, and the Admin Surface leaves the
// cross-instance presence field out of /stats.
package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection used for coordination, not caching.
type Client struct {
	rdb *redis.Client
}

// Config holds backplane connection configuration.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// NewClient connects to Redis, or returns a disabled Client when Enabled is
// false so callers can treat the backplane as always-present but sometimes
// inert.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{rdb: nil}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis backplane: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an already-constructed go-redis client, used by tests
// to inject a miniredis-backed instance.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Enabled reports whether this client is backed by a live Redis connection.
func (c *Client) Enabled() bool {
	return c.rdb != nil
}

// TryLock attempts to acquire a named, TTL-bounded advisory lock using
// SETNX. It is used as a defense-in-depth check alongside the in-process
// singleflight group when multiple instances race to create the first Hub
// for a DocumentId. Returns false without error when disabled, so callers
// that only want the in-process guarantee can ignore the return value.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	ok, err := c.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Unlock releases a lock acquired with TryLock. Safe to call even if the
// lock was never held.
func (c *Client) Unlock(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Del(ctx, key).Err()
}

// PutPresence stores this instance's set of open documents and client
// counts for the cross-instance snapshot surfaced by the Admin Surface.
func (c *Client) PutPresence(ctx context.Context, instanceID string, snapshot interface{}, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal presence snapshot: %w", err)
	}
	return c.rdb.Set(ctx, presenceKey(instanceID), data, ttl).Err()
}

// ListPresence returns the raw JSON presence snapshots of every instance
// that has published one within its TTL.
func (c *Client) ListPresence(ctx context.Context) (map[string][]byte, error) {
	out := map[string][]byte{}
	if !c.Enabled() {
		return out, nil
	}

	iter := c.rdb.Scan(ctx, 0, presenceKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := c.rdb.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("read presence key %s: %w", key, err)
		}
		if err == nil {
			out[key] = val
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence keys: %w", err)
	}
	return out, nil
}

func presenceKey(instanceID string) string {
	return fmt.Sprintf("collab:presence:%s", instanceID)
}
