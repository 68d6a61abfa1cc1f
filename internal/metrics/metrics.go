package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request-path metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipwatch_requests_total",
			Help: "Total number of requests processed, by outcome",
		},
		[]string{"outcome"},
	)

	BlocklistCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipwatch_blocklist_cache_hits_total",
			Help: "Blocklist lookups answered from the in-memory cache",
		},
	)

	BlocklistCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipwatch_blocklist_cache_misses_total",
			Help: "Blocklist lookups that fell through to the durable store",
		},
	)

	RateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipwatch_rate_limit_denied_total",
			Help: "Requests denied by the rate limiter, by scope",
		},
		[]string{"scope"},
	)

	// Scan metrics
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ipwatch_scan_duration_seconds",
			Help:    "Duration of full anomaly scans in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScanIPsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipwatch_scan_ips_total",
			Help: "Total number of IPs evaluated by the suspicion engine",
		},
	)

	FindingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipwatch_findings_created_total",
			Help: "New suspicion findings persisted, by reason",
		},
		[]string{"reason"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipwatch_detector_errors_total",
			Help: "Detector evaluations skipped due to errors, by detector",
		},
		[]string{"detector"},
	)

	EventsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipwatch_events_deleted_total",
			Help: "Request events removed by retention cleanup",
		},
	)

	// Dependency metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipwatch_store_errors_total",
			Help: "Durable store operation failures, by store",
		},
		[]string{"store"},
	)

	GeoLookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipwatch_geo_lookup_errors_total",
			Help: "Geolocation lookups that failed and were treated as absent",
		},
	)
)
