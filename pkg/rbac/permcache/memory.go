package permcache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// DefaultSize is the number of users kept by a MemoryCache when none is given
const DefaultSize = 10000

// MemoryCache is an in-process rbac.PermissionCache with LRU eviction and TTL
type MemoryCache struct {
	cache  *lru.LRU[string, []rbac.PermissionInfo]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a cache holding up to size users for ttl each
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultSize
	}
	return &MemoryCache{
		cache: lru.NewLRU[string, []rbac.PermissionInfo](size, nil, ttl),
	}
}

// Get returns the cached permissions for userID
func (c *MemoryCache) Get(_ context.Context, userID string) ([]rbac.PermissionInfo, bool, error) {
	perms, ok := c.cache.Get(userID)
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return perms, true, nil
}

// Set stores a copy of perms for userID
func (c *MemoryCache) Set(_ context.Context, userID string, perms []rbac.PermissionInfo) error {
	c.cache.Add(userID, append([]rbac.PermissionInfo{}, perms...))
	return nil
}

// Invalidate drops userID's entry
func (c *MemoryCache) Invalidate(_ context.Context, userID string) error {
	c.cache.Remove(userID)
	return nil
}

// Purge drops every entry
func (c *MemoryCache) Purge(context.Context) error {
	c.cache.Purge()
	return nil
}

// Stats returns hit and miss counters and the current entry count
func (c *MemoryCache) Stats() Stats {
	return newStats(c.hits.Load(), c.misses.Load(), int64(c.cache.Len()))
}

// Close purges the cache
func (c *MemoryCache) Close() error {
	c.cache.Purge()
	return nil
}
