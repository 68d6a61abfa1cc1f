// Package tracker is the request-path entry point: blocklist check,
// rate-limit check, geolocation enrichment, event append. The
// surrounding service calls Process once per inbound request.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/sentriq/ipwatch/internal/blocklist"
	"github.com/sentriq/ipwatch/internal/geo"
	"github.com/sentriq/ipwatch/internal/logging"
	"github.com/sentriq/ipwatch/internal/metrics"
	"github.com/sentriq/ipwatch/internal/models"
	"github.com/sentriq/ipwatch/internal/ratelimit"
	"github.com/sentriq/ipwatch/internal/store"
)

// ErrInvalidIP rejects a single malformed event; it never aborts batch
// processing.
var ErrInvalidIP = errors.New("invalid ip address")

// Request is one inbound request as seen by the interception layer.
type Request struct {
	IP     string
	Path   string
	UserID string // empty for anonymous clients
	Scope  string // route scope for rate limiting
	Time   time.Time
}

// Outcome classifies the processing result.
type Outcome string

const (
	OutcomeAllowed     Outcome = "allowed"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeRateLimited Outcome = "rate_limited"
)

// Result is returned to the caller so it can produce the matching
// rejection (403 for blocked, 429 with Retry-After for rate limited).
type Result struct {
	Outcome  Outcome            `json:"outcome"`
	Decision ratelimit.Decision `json:"-"`
}

// Tracker wires the request-path components together.
type Tracker struct {
	blocklist *blocklist.Cache
	limiter   ratelimit.Limiter
	events    store.EventStore
	geo       geo.Provider
	failOpen  bool
	logger    *logging.Logger
}

// New creates a Tracker. failOpen controls behavior when the blocklist
// store or limiter backend is unavailable: allow the request through, or
// reject it.
func New(bl *blocklist.Cache, limiter ratelimit.Limiter, events store.EventStore, provider geo.Provider, failOpen bool, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		blocklist: bl,
		limiter:   limiter,
		events:    events,
		geo:       provider,
		failOpen:  failOpen,
		logger:    logger,
	}
}

// Process runs the full request path for one request. It returns an
// error only for invalid input or, under the fail-closed policy, when a
// dependency is unavailable.
func (t *Tracker) Process(ctx context.Context, req Request) (Result, error) {
	addr, err := netip.ParseAddr(req.IP)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidIP, req.IP)
	}
	ip := addr.String()

	blocked, err := t.blocklist.IsBlocked(ctx, ip)
	if err != nil {
		if !t.failOpen {
			return Result{}, fmt.Errorf("blocklist check: %w", err)
		}
		t.logger.Warn("blocklist unavailable, failing open", "ip", ip, "error", err)
		blocked = false
	}
	if blocked {
		metrics.RequestsTotal.WithLabelValues(string(OutcomeBlocked)).Inc()
		t.logger.Warn("blocked ip attempted access", "ip", ip, "path", req.Path)
		return Result{Outcome: OutcomeBlocked}, nil
	}

	identity := ratelimit.Anonymous(ip)
	if req.UserID != "" {
		identity = ratelimit.User(req.UserID)
	}
	decision, err := t.limiter.Allow(ctx, identity, req.Scope)
	if err != nil {
		if !t.failOpen {
			return Result{}, fmt.Errorf("rate limit check: %w", err)
		}
		t.logger.Warn("rate limiter unavailable, failing open", "ip", ip, "error", err)
		decision = ratelimit.Decision{Allowed: true}
	}
	if !decision.Allowed {
		metrics.RequestsTotal.WithLabelValues(string(OutcomeRateLimited)).Inc()
		return Result{Outcome: OutcomeRateLimited, Decision: decision}, nil
	}

	t.appendEvent(ctx, ip, req)
	metrics.RequestsTotal.WithLabelValues(string(OutcomeAllowed)).Inc()
	return Result{Outcome: OutcomeAllowed, Decision: decision}, nil
}

// appendEvent enriches and stores the event. Geolocation and store
// failures are absorbed; an accepted request is never failed because
// bookkeeping did not land.
func (t *Tracker) appendEvent(ctx context.Context, ip string, req Request) {
	ts := req.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	loc, err := t.geo.Lookup(ctx, ip)
	if err != nil {
		metrics.GeoLookupErrors.Inc()
		t.logger.Warn("geolocation lookup failed", "ip", ip, "error", err)
		loc = geo.Location{}
	}

	ev := &models.RequestEvent{
		IP:        ip,
		Timestamp: ts.UTC(),
		Path:      req.Path,
		Country:   loc.Country,
		City:      loc.City,
	}
	if err := t.events.Append(ctx, ev); err != nil {
		metrics.StoreErrors.WithLabelValues("events").Inc()
		t.logger.Error("failed to append request event", "ip", ip, "error", err)
	}
}
