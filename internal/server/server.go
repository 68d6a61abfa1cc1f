// Package server exposes the daemon's HTTP surface: the per-request
// check endpoint, admin operations on the blocklist and findings, scan
// triggering, reporting, health and metrics.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux builds the HTTP routing table for the daemon.
func NewMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/check", h.Check)

	mux.HandleFunc("GET /api/v1/blocklist", h.ListBlocked)
	mux.HandleFunc("POST /api/v1/blocklist", h.Block)
	mux.HandleFunc("DELETE /api/v1/blocklist/{ip}", h.Unblock)

	mux.HandleFunc("GET /api/v1/findings", h.ListFindings)
	mux.HandleFunc("POST /api/v1/findings/deactivate", h.DeactivateFinding)

	mux.HandleFunc("POST /api/v1/scan", h.RunScan)
	mux.HandleFunc("GET /api/v1/report", h.Report)

	return mux
}
