package geo

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	loc     Location
	expires time.Time
}

// Cached wraps a Provider with a per-IP TTL cache. Concurrent misses for
// the same IP are collapsed into a single upstream lookup.
type Cached struct {
	provider Provider
	ttl      time.Duration
	group    singleflight.Group
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCached wraps provider with a lookup cache using the given TTL.
func NewCached(provider Provider, ttl time.Duration) *Cached {
	return &Cached{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

func (c *Cached) Lookup(ctx context.Context, ip string) (Location, error) {
	c.mu.RLock()
	entry, ok := c.entries[ip]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.loc, nil
	}

	v, err, _ := c.group.Do(ip, func() (interface{}, error) {
		loc, err := c.provider.Lookup(ctx, ip)
		if err != nil {
			return Location{}, err
		}
		c.mu.Lock()
		c.entries[ip] = cacheEntry{loc: loc, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return loc, nil
	})
	if err != nil {
		return Location{}, err
	}
	return v.(Location), nil
}

func (c *Cached) Close() error {
	return c.provider.Close()
}
