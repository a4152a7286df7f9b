// Package cache provides an optional Redis-backed best-effort cache the
// broker can consult before hitting CouchDB on assignOne's hot path.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmptyAssignCache remembers, for a short TTL, that a task name had no
// eligible candidate on the last assignOne pass - so a burst of idle
// pollers don't all re-run the same Mango query against CouchDB. It is
// purely an optimization: a false negative here just means one extra query,
// never an incorrect assignment.
type EmptyAssignCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEmptyAssignCache wraps a redis client. addr may be empty, in which
// case RecentlyEmpty always reports false and MarkEmpty and Clear are
// no-ops - callers don't need to branch
// on whether Redis is configured.
func NewEmptyAssignCache(addr string, ttl time.Duration) *EmptyAssignCache {
	if addr == "" {
		return &EmptyAssignCache{ttl: ttl}
	}
	return &EmptyAssignCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func key(taskName string) string {
	return "taskfabric:assign-empty:" + taskName
}

// RecentlyEmpty reports whether taskName was observed empty within the TTL.
func (c *EmptyAssignCache) RecentlyEmpty(ctx context.Context, taskName string) bool {
	if c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, key(taskName)).Result()
	return err == nil && n > 0
}

// MarkEmpty records that taskName had no eligible candidate just now.
func (c *EmptyAssignCache) MarkEmpty(ctx context.Context, taskName string) {
	if c.client == nil {
		return
	}
	c.client.Set(ctx, key(taskName), "1", c.ttl)
}

// Clear removes the empty marker for taskName, used whenever a task is
// stacked so a just-created candidate isn't hidden behind a stale marker.
func (c *EmptyAssignCache) Clear(ctx context.Context, taskName string) {
	if c.client == nil {
		return
	}
	c.client.Del(ctx, key(taskName))
}

// Close releases the underlying connection, if any.
func (c *EmptyAssignCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
