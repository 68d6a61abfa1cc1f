// Package detect runs a fixed registry of independent suspicion
// detectors over a per-IP activity window. Detectors share the window's
// precomputed aggregates, so each scan reads the event sequence once.
package detect

import (
	"github.com/sentriq/ipwatch/internal/logging"
	"github.com/sentriq/ipwatch/internal/metrics"
	"github.com/sentriq/ipwatch/internal/models"
)

// Engine evaluates all registered detectors against one window.
type Engine struct {
	detectors []Detector
	logger    *logging.Logger
}

// NewEngine creates an Engine with the default detector registry.
func NewEngine(cfg Config, logger *logging.Logger) *Engine {
	return NewEngineWithDetectors(DefaultDetectors(cfg), logger)
}

// NewEngineWithDetectors creates an Engine with an explicit registry.
func NewEngineWithDetectors(detectors []Detector, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{detectors: detectors, logger: logger}
}

// Evaluate runs every detector against the window and returns the
// reasons that fired. A detector error is logged and that detector
// skipped; it never aborts the others.
func (e *Engine) Evaluate(w *Window) []models.Reason {
	var reasons []models.Reason
	for _, d := range e.detectors {
		reason, fired, err := d.Evaluate(w)
		if err != nil {
			metrics.DetectorErrors.WithLabelValues(d.Name()).Inc()
			e.logger.Warn("detector failed, skipping",
				"detector", d.Name(), "ip", w.IP, "error", err)
			continue
		}
		if fired {
			reasons = append(reasons, reason)
		}
	}
	return reasons
}
