package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sentriq/ipwatch/internal/metrics"
)

// MemoryLimiter keeps sliding-window counters in process memory. State
// is ephemeral; losing it only loosens limits until windows refill.
type MemoryLimiter struct {
	rules Rules
	now   func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryLimiter creates an in-memory limiter with the given rules.
func NewMemoryLimiter(rules Rules) *MemoryLimiter {
	return &MemoryLimiter{
		rules:   rules,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// Allow checks and counts one request under the mutex, so the check and
// the increment are a single atomic step.
func (m *MemoryLimiter) Allow(ctx context.Context, id Identity, scope string) (Decision, error) {
	rule := m.rules.Resolve(scope, id)
	if rule.Limit <= 0 {
		return Decision{Allowed: true, Limit: rule.Limit}, nil
	}

	key := stateKey(id, scope)
	now := m.now()
	cutoff := now.Add(-rule.Window)

	m.mu.Lock()
	defer m.mu.Unlock()

	times := m.windows[key]
	// Drop timestamps that have slid out of the window.
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rule.Limit {
		m.windows[key] = kept
		metrics.RateLimitDenied.WithLabelValues(scope).Inc()
		return Decision{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			RetryAfter: kept[0].Add(rule.Window).Sub(now),
		}, nil
	}

	kept = append(kept, now)
	m.windows[key] = kept
	return Decision{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - len(kept),
	}, nil
}

// Close drops all counter state.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	m.windows = make(map[string][]time.Time)
	m.mu.Unlock()
	return nil
}
