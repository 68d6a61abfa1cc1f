// Package scan drives periodic anomaly detection and retention cleanup.
// A scan only reads the event store and writes findings; it takes no
// lock the request path depends on.
package scan

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sentriq/ipwatch/internal/detect"
	"github.com/sentriq/ipwatch/internal/findings"
	"github.com/sentriq/ipwatch/internal/logging"
	"github.com/sentriq/ipwatch/internal/metrics"
	"github.com/sentriq/ipwatch/internal/store"
)

// Config holds orchestrator scheduling and retention settings.
type Config struct {
	Lookback   time.Duration
	Workers    int
	Retention  time.Duration
	FindingTTL time.Duration
}

// Stats summarizes one scan run.
type Stats struct {
	IPsScanned       int           `json:"ips_scanned"`
	FindingsRecorded int64         `json:"findings_recorded"`
	Duration         time.Duration `json:"duration"`
}

// Orchestrator enumerates IPs with recent activity, evaluates the
// suspicion engine per IP, and feeds results to the finding sink.
type Orchestrator struct {
	events    store.EventStore
	engine    *detect.Engine
	sink      *findings.Sink
	detectCfg detect.Config
	cfg       Config
	logger    *logging.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(events store.EventStore, engine *detect.Engine, sink *findings.Sink, detectCfg detect.Config, cfg Config, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		events:    events,
		engine:    engine,
		sink:      sink,
		detectCfg: detectCfg,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// RunScan performs one full scan synchronously. Per-IP evaluation is
// independent, so IPs are distributed across a bounded worker group. A
// failure on one IP is logged and never stops the rest of the scan.
func (o *Orchestrator) RunScan(ctx context.Context) (Stats, error) {
	start := o.now()
	end := start.UTC()
	since := end.Add(-o.cfg.Lookback)

	ips, err := o.events.DistinctIPs(ctx, since)
	if err != nil {
		return Stats{}, err
	}

	var recorded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, ip := range ips {
		g.Go(func() error {
			n, err := o.scanIP(gctx, ip, since, end)
			if err != nil {
				o.logger.Error("scan failed for ip", "ip", ip, "error", err)
				return nil
			}
			recorded.Add(n)
			return nil
		})
	}
	// Workers swallow their own errors; Wait only observes ctx cancellation.
	_ = g.Wait()

	stats := Stats{
		IPsScanned:       len(ips),
		FindingsRecorded: recorded.Load(),
		Duration:         o.now().Sub(start),
	}
	metrics.ScanDuration.Observe(stats.Duration.Seconds())
	metrics.ScanIPsTotal.Add(float64(stats.IPsScanned))
	o.logger.Info("scan completed",
		"ips", stats.IPsScanned,
		"findings", stats.FindingsRecorded,
		"duration", stats.Duration)
	return stats, ctx.Err()
}

func (o *Orchestrator) scanIP(ctx context.Context, ip string, since, end time.Time) (int64, error) {
	events, err := o.events.ListByIP(ctx, ip, since, end)
	if err != nil {
		return 0, err
	}

	window := detect.NewWindow(ip, events, end, o.detectCfg)
	var recorded int64
	for _, reason := range o.engine.Evaluate(window) {
		if err := o.sink.Record(ctx, ip, reason, end); err != nil {
			o.logger.Error("failed to record finding",
				"ip", ip, "reason", reason, "error", err)
			continue
		}
		recorded++
	}
	return recorded, nil
}

// RunCleanup deletes events older than the retention horizon and sweeps
// stale findings.
func (o *Orchestrator) RunCleanup(ctx context.Context) error {
	cutoff := o.now().UTC().Add(-o.cfg.Retention)
	deleted, err := o.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		metrics.EventsDeleted.Add(float64(deleted))
		o.logger.Info("retention cleanup removed events", "count", deleted)
	}

	if _, err := o.sink.SweepStale(ctx, o.now().UTC().Add(-o.cfg.FindingTTL)); err != nil {
		return err
	}
	return nil
}

// Start runs scans and cleanup on the given interval until ctx is
// cancelled. The first run happens immediately. Background and
// synchronous invocation produce identical results; this is purely a
// scheduling convenience.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("scan orchestrator started", "interval", interval)

	o.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("scan orchestrator stopped")
			return
		case <-ticker.C:
			o.runOnce(ctx)
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) {
	if _, err := o.RunScan(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("scan run failed", "error", err)
	}
	if err := o.RunCleanup(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("cleanup run failed", "error", err)
	}
}
