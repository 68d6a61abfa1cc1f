// Package blocklist serves the hot-path blocked-IP membership check from
// an in-memory read-through cache over the durable blocklist store.
package blocklist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sentriq/ipwatch/internal/logging"
	"github.com/sentriq/ipwatch/internal/metrics"
	"github.com/sentriq/ipwatch/internal/models"
	"github.com/sentriq/ipwatch/internal/store"
)

type entry struct {
	blocked bool
	expires time.Time
}

// Cache is a read-through projection of the durable blocklist. A miss
// falls through to the store and repopulates; writes go to the store
// first and then invalidate the entry so the next read refetches from
// the source of truth. Entries carry a TTL as a safety net against lost
// invalidations (e.g. a block issued by another process).
type Cache struct {
	store  store.BlocklistStore
	ttl    time.Duration
	logger *logging.Logger
	group  singleflight.Group
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a Cache over the given durable store.
func New(bs store.BlocklistStore, ttl time.Duration, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		store:   bs,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// IsBlocked reports whether ip is on the blocklist. Cache misses are
// answered from the durable store; a store failure is returned to the
// caller, which applies the configured fail-open/fail-closed policy.
func (c *Cache) IsBlocked(ctx context.Context, ip string) (bool, error) {
	c.mu.RLock()
	e, ok := c.entries[ip]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		metrics.BlocklistCacheHits.Inc()
		return e.blocked, nil
	}

	metrics.BlocklistCacheMisses.Inc()
	v, err, _ := c.group.Do(ip, func() (interface{}, error) {
		blocked, err := c.store.Exists(ctx, ip)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("blocklist").Inc()
			return false, fmt.Errorf("blocklist lookup: %w", err)
		}
		c.mu.Lock()
		c.entries[ip] = entry{blocked: blocked, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return blocked, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Block adds ip to the durable blocklist and invalidates its cache
// entry. Blocking an already-blocked IP returns store.ErrAlreadyBlocked.
func (c *Cache) Block(ctx context.Context, ip, reason string) error {
	err := c.store.Put(ctx, &models.BlockedEntry{
		IP:        ip,
		CreatedAt: c.now().UTC(),
		Reason:    reason,
	})
	if err != nil {
		return fmt.Errorf("block %s: %w", ip, err)
	}
	c.invalidate(ip)
	c.logger.Info("ip blocked", "ip", ip, "reason", reason)
	return nil
}

// Unblock removes ip from the durable blocklist and invalidates its
// cache entry.
func (c *Cache) Unblock(ctx context.Context, ip string) error {
	if err := c.store.Delete(ctx, ip); err != nil {
		return fmt.Errorf("unblock %s: %w", ip, err)
	}
	c.invalidate(ip)
	c.logger.Info("ip unblocked", "ip", ip)
	return nil
}

// List returns the durable blocklist entries.
func (c *Cache) List(ctx context.Context) ([]models.BlockedEntry, error) {
	return c.store.List(ctx)
}

// invalidate drops the cache entry rather than updating it in place, so
// the next read repopulates from the source of truth.
func (c *Cache) invalidate(ip string) {
	c.mu.Lock()
	delete(c.entries, ip)
	c.mu.Unlock()
}
