package detect

import (
	"fmt"
	"time"

	"github.com/sentriq/ipwatch/internal/models"
)

// Detector is one independent suspicion heuristic. Evaluate is a pure
// function of the window and returns whether its reason fires.
type Detector interface {
	Name() string
	Evaluate(w *Window) (models.Reason, bool, error)
}

// Config holds the injected detector thresholds. Acceptable values are
// deployment-specific, so none are hard-coded here.
type Config struct {
	Window          time.Duration
	VolumeThreshold int
	RateWindow      time.Duration
	RateThreshold   int
	SensitivePaths  []string
	PathThreshold   int
	GeoMinInterval  time.Duration
	BurstCount      int
	BurstWindow     time.Duration
}

// DefaultDetectors returns the fixed registry evaluated by the engine.
func DefaultDetectors(cfg Config) []Detector {
	return []Detector{
		volumeDetector{threshold: cfg.VolumeThreshold},
		rateDetector{threshold: cfg.RateThreshold},
		sensitivePathDetector{},
		pathDiversityDetector{threshold: cfg.PathThreshold},
		geoJumpDetector{minInterval: cfg.GeoMinInterval},
		burstDetector{count: cfg.BurstCount, window: cfg.BurstWindow},
	}
}

// volumeDetector fires when the total event count in the window exceeds
// the threshold.
type volumeDetector struct {
	threshold int
}

func (volumeDetector) Name() string { return "volume" }

func (d volumeDetector) Evaluate(w *Window) (models.Reason, bool, error) {
	return models.ReasonHighVolume, w.total > d.threshold, nil
}

// rateDetector fires when the event count in the trailing rate window
// (relative to the window end) exceeds the threshold.
type rateDetector struct {
	threshold int
}

func (rateDetector) Name() string { return "rate" }

func (d rateDetector) Evaluate(w *Window) (models.Reason, bool, error) {
	return models.ReasonHighRate, w.recentCount > d.threshold, nil
}

// sensitivePathDetector fires when any event path matched the configured
// sensitive-path set.
type sensitivePathDetector struct{}

func (sensitivePathDetector) Name() string { return "sensitive_path" }

func (sensitivePathDetector) Evaluate(w *Window) (models.Reason, bool, error) {
	return models.ReasonSensitivePathAccess, len(w.sensitiveHits) > 0, nil
}

// pathDiversityDetector fires when the count of distinct paths exceeds
// the threshold.
type pathDiversityDetector struct {
	threshold int
}

func (pathDiversityDetector) Name() string { return "path_diversity" }

func (d pathDiversityDetector) Evaluate(w *Window) (models.Reason, bool, error) {
	return models.ReasonPathDiversity, len(w.distinctPaths) > d.threshold, nil
}

// geoJumpDetector fires when two consecutive geolocated events show a
// country or city change within a delta too short for plausible travel.
type geoJumpDetector struct {
	minInterval time.Duration
}

func (geoJumpDetector) Name() string { return "geo_jump" }

func (d geoJumpDetector) Evaluate(w *Window) (models.Reason, bool, error) {
	for i := 1; i < len(w.geoTrail); i++ {
		prev, cur := w.geoTrail[i-1], w.geoTrail[i]
		delta := cur.at.Sub(prev.at)
		if delta < 0 {
			return models.ReasonGeoAnomaly, false,
				fmt.Errorf("geolocation history out of order at %s", cur.at)
		}
		if prev.country == cur.country && prev.city == cur.city {
			continue
		}
		if delta < d.minInterval {
			return models.ReasonGeoAnomaly, true, nil
		}
	}
	return models.ReasonGeoAnomaly, false, nil
}

// burstDetector fires when burst-count events fall inside a sub-window
// no longer than the burst window.
type burstDetector struct {
	count  int
	window time.Duration
}

func (burstDetector) Name() string { return "burst" }

func (d burstDetector) Evaluate(w *Window) (models.Reason, bool, error) {
	if d.count <= 0 || len(w.Events) < d.count {
		return models.ReasonBurstPattern, false, nil
	}
	// Events are sorted; slide a window of count events and check span.
	for i := 0; i+d.count <= len(w.Events); i++ {
		first := w.Events[i].Timestamp
		last := w.Events[i+d.count-1].Timestamp
		if last.Sub(first) <= d.window {
			return models.ReasonBurstPattern, true, nil
		}
	}
	return models.ReasonBurstPattern, false, nil
}
