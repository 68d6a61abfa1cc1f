// Package report produces traffic summaries for operator review.
package report

import (
	"context"
	"time"

	"github.com/sentriq/ipwatch/internal/store"
)

const topN = 10

// Report is a traffic summary over one period.
type Report struct {
	Period         string             `json:"period"`
	TotalRequests  int64              `json:"total_requests"`
	UniqueIPs      int64              `json:"unique_ips"`
	TopCountries   []store.LabelCount `json:"top_countries"`
	TopPaths       []store.LabelCount `json:"top_paths"`
	ActiveFindings int                `json:"active_findings"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// Reporter aggregates event and finding data.
type Reporter struct {
	events   store.EventStore
	findings store.FindingStore
}

// New creates a Reporter.
func New(events store.EventStore, findings store.FindingStore) *Reporter {
	return &Reporter{events: events, findings: findings}
}

// Generate builds a report over the trailing period (default 24h).
func (r *Reporter) Generate(ctx context.Context, period time.Duration) (*Report, error) {
	if period <= 0 {
		period = 24 * time.Hour
	}
	now := time.Now().UTC()

	sum, err := r.events.Summary(ctx, now.Add(-period), topN)
	if err != nil {
		return nil, err
	}
	active, err := r.findings.CountActive(ctx)
	if err != nil {
		return nil, err
	}

	return &Report{
		Period:         period.String(),
		TotalRequests:  sum.TotalRequests,
		UniqueIPs:      sum.UniqueIPs,
		TopCountries:   sum.TopCountries,
		TopPaths:       sum.TopPaths,
		ActiveFindings: active,
		GeneratedAt:    now,
	}, nil
}
