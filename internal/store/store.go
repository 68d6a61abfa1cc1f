// Package store defines the durable persistence interfaces for request
// events, the blocklist, and suspicion findings, with PostgreSQL and
// in-memory implementations. Callers are agnostic to the backing
// technology; they see create/read/update-by-key plus range queries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sentriq/ipwatch/internal/models"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyBlocked is returned when blocking an IP that already has
	// an active blocklist entry.
	ErrAlreadyBlocked = errors.New("ip already blocked")
	// ErrUnavailable marks a transient store failure (unreachable,
	// timed out). Callers decide whether to retry or degrade.
	ErrUnavailable = errors.New("store unavailable")
)

// EventStore is the append-only record of request events.
type EventStore interface {
	Append(ctx context.Context, ev *models.RequestEvent) error
	// ListByIP returns the events for one IP with from <= timestamp < to,
	// ordered by timestamp ascending.
	ListByIP(ctx context.Context, ip string, from, to time.Time) ([]models.RequestEvent, error)
	// DistinctIPs returns every IP with at least one event since the
	// given instant.
	DistinctIPs(ctx context.Context, since time.Time) ([]string, error)
	// DeleteOlderThan removes events older than the cutoff and reports
	// how many were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// Summary aggregates traffic since the given instant for reporting.
	Summary(ctx context.Context, since time.Time, topN int) (*TrafficSummary, error)
}

// BlocklistStore is the durable source of truth for blocked IPs.
type BlocklistStore interface {
	Put(ctx context.Context, entry *models.BlockedEntry) error
	Delete(ctx context.Context, ip string) error
	Exists(ctx context.Context, ip string) (bool, error)
	List(ctx context.Context) ([]models.BlockedEntry, error)
}

// FindingStore persists suspicion findings.
type FindingStore interface {
	Insert(ctx context.Context, f *models.SuspicionFinding) error
	// ActiveExists reports whether an active finding exists for the pair.
	ActiveExists(ctx context.Context, ip string, reason models.Reason) (bool, error)
	// Deactivate clears the active finding for the pair, if any.
	Deactivate(ctx context.Context, ip string, reason models.Reason) error
	// DeactivateOlderThan deactivates active findings detected before the
	// cutoff and reports how many were swept.
	DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context, activeOnly bool, limit int) ([]models.SuspicionFinding, error)
	CountActive(ctx context.Context) (int, error)
}

// TrafficSummary holds report aggregates over a time period.
type TrafficSummary struct {
	TotalRequests int64        `json:"total_requests"`
	UniqueIPs     int64        `json:"unique_ips"`
	TopCountries  []LabelCount `json:"top_countries"`
	TopPaths      []LabelCount `json:"top_paths"`
}

// LabelCount is one row of a top-N aggregate.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}
