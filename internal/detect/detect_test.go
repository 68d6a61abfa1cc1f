package detect

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentriq/ipwatch/internal/models"
)

func testConfig() Config {
	return Config{
		Window:          time.Hour,
		VolumeThreshold: 100,
		RateWindow:      time.Minute,
		RateThreshold:   2,
		SensitivePaths:  []string{"/admin", "/login"},
		PathThreshold:   50,
		GeoMinInterval:  time.Hour,
		BurstCount:      20,
		BurstWindow:     5 * time.Minute,
	}
}

// eventsAt builds n events for ip spaced by interval, ending before end.
func eventsAt(ip string, n int, start time.Time, interval time.Duration, path string) []models.RequestEvent {
	out := make([]models.RequestEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.RequestEvent{
			IP:        ip,
			Timestamp: start.Add(time.Duration(i) * interval),
			Path:      path,
		})
	}
	return out
}

func TestVolumeDetector(t *testing.T) {
	cfg := testConfig()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		count int
		fired bool
	}{
		{name: "101 events trigger", count: 101, fired: true},
		{name: "exactly 100 does not", count: 100, fired: false},
		{name: "no events", count: 0, fired: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := eventsAt("203.0.113.5", tt.count, end.Add(-time.Hour), 30*time.Second, "/")
			w := NewWindow("203.0.113.5", events, end, cfg)

			d := volumeDetector{threshold: cfg.VolumeThreshold}
			reason, fired, err := d.Evaluate(w)
			require.NoError(t, err)
			assert.Equal(t, models.ReasonHighVolume, reason)
			assert.Equal(t, tt.fired, fired)
		})
	}
}

func TestRateDetector(t *testing.T) {
	cfg := testConfig()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("three events in trailing minute trigger", func(t *testing.T) {
		events := eventsAt("203.0.113.5", 3, end.Add(-50*time.Second), 10*time.Second, "/")
		w := NewWindow("203.0.113.5", events, end, cfg)

		d := rateDetector{threshold: cfg.RateThreshold}
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.True(t, fired)
	})

	t.Run("events outside the trailing minute do not count", func(t *testing.T) {
		events := eventsAt("203.0.113.5", 10, end.Add(-30*time.Minute), time.Second, "/")
		w := NewWindow("203.0.113.5", events, end, cfg)

		d := rateDetector{threshold: cfg.RateThreshold}
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.False(t, fired)
	})
}

func TestSensitivePathDetector(t *testing.T) {
	cfg := testConfig()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		path  string
		fired bool
	}{
		{name: "admin path", path: "/admin/users", fired: true},
		{name: "login path", path: "/login", fired: true},
		{name: "ordinary path", path: "/products", fired: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := eventsAt("198.51.100.2", 1, end.Add(-time.Minute), time.Second, tt.path)
			w := NewWindow("198.51.100.2", events, end, cfg)

			_, fired, err := sensitivePathDetector{}.Evaluate(w)
			require.NoError(t, err)
			assert.Equal(t, tt.fired, fired)
		})
	}
}

func TestPathDiversityDetector(t *testing.T) {
	cfg := testConfig()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var events []models.RequestEvent
	for i := 0; i < 51; i++ {
		events = append(events, models.RequestEvent{
			IP:        "198.51.100.3",
			Timestamp: end.Add(-time.Hour).Add(time.Duration(i) * time.Second),
			Path:      fmt.Sprintf("/page/%d", i),
		})
	}
	w := NewWindow("198.51.100.3", events, end, cfg)

	d := pathDiversityDetector{threshold: cfg.PathThreshold}
	_, fired, err := d.Evaluate(w)
	require.NoError(t, err)
	assert.True(t, fired, "51 distinct paths exceed threshold of 50")

	// Same request count over few paths does not fire.
	w = NewWindow("198.51.100.3",
		eventsAt("198.51.100.3", 51, end.Add(-time.Hour), time.Second, "/same"), end, cfg)
	_, fired, err = d.Evaluate(w)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestGeoJumpDetector(t *testing.T) {
	cfg := testConfig()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := geoJumpDetector{minInterval: cfg.GeoMinInterval}

	geoEvents := func(gap time.Duration) []models.RequestEvent {
		first := end.Add(-10 * time.Hour)
		return []models.RequestEvent{
			{IP: "203.0.113.10", Timestamp: first, Path: "/", Country: "US", City: "Seattle"},
			{IP: "203.0.113.10", Timestamp: first.Add(gap), Path: "/", Country: "JP", City: "Tokyo"},
		}
	}

	t.Run("country change 5 minutes apart triggers", func(t *testing.T) {
		w := NewWindow("203.0.113.10", geoEvents(5*time.Minute), end, cfg)
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.True(t, fired)
	})

	t.Run("same change 8 hours apart does not", func(t *testing.T) {
		w := NewWindow("203.0.113.10", geoEvents(8*time.Hour), end, cfg)
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.False(t, fired)
	})

	t.Run("no change never triggers", func(t *testing.T) {
		first := end.Add(-time.Hour)
		events := []models.RequestEvent{
			{IP: "203.0.113.10", Timestamp: first, Path: "/", Country: "US", City: "Seattle"},
			{IP: "203.0.113.10", Timestamp: first.Add(time.Minute), Path: "/", Country: "US", City: "Seattle"},
		}
		w := NewWindow("203.0.113.10", events, end, cfg)
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.False(t, fired)
	})

	t.Run("events without geolocation are ignored", func(t *testing.T) {
		w := NewWindow("203.0.113.10",
			eventsAt("203.0.113.10", 5, end.Add(-time.Hour), time.Minute, "/"), end, cfg)
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.False(t, fired)
	})
}

func TestBurstDetector(t *testing.T) {
	cfg := testConfig()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := burstDetector{count: cfg.BurstCount, window: cfg.BurstWindow}

	t.Run("20 events in 2 minutes trigger", func(t *testing.T) {
		events := eventsAt("192.0.2.9", 20, end.Add(-10*time.Minute), 6*time.Second, "/")
		w := NewWindow("192.0.2.9", events, end, cfg)
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.True(t, fired)
	})

	t.Run("20 events spread over an hour do not", func(t *testing.T) {
		events := eventsAt("192.0.2.9", 20, end.Add(-time.Hour), 3*time.Minute, "/")
		w := NewWindow("192.0.2.9", events, end, cfg)
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.False(t, fired)
	})

	t.Run("burst hidden inside slow traffic is still found", func(t *testing.T) {
		events := eventsAt("192.0.2.9", 10, end.Add(-time.Hour), 4*time.Minute, "/")
		events = append(events, eventsAt("192.0.2.9", 20, end.Add(-4*time.Minute), time.Second, "/")...)
		w := NewWindow("192.0.2.9", events, end, cfg)
		_, fired, err := d.Evaluate(w)
		require.NoError(t, err)
		assert.True(t, fired)
	})
}

type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }
func (failingDetector) Evaluate(w *Window) (models.Reason, bool, error) {
	return "", false, errors.New("malformed input")
}

type firingDetector struct{}

func (firingDetector) Name() string { return "firing" }
func (firingDetector) Evaluate(w *Window) (models.Reason, bool, error) {
	return models.ReasonHighVolume, true, nil
}

func TestEngine_DetectorFailureIsIsolated(t *testing.T) {
	engine := NewEngineWithDetectors([]Detector{failingDetector{}, firingDetector{}}, nil)
	w := NewWindow("203.0.113.1", nil, time.Now(), testConfig())

	reasons := engine.Evaluate(w)
	assert.Equal(t, []models.Reason{models.ReasonHighVolume}, reasons,
		"a failing detector must not abort the others")
}

func TestEngine_MultipleDetectorsFire(t *testing.T) {
	cfg := testConfig()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(cfg, nil)

	// 150 requests against /admin in the 2.5 minutes before the window
	// end: volume, rate, sensitive path and burst all fire at once.
	events := eventsAt("203.0.113.66", 150, end.Add(-150*time.Second), time.Second, "/admin/panel")
	w := NewWindow("203.0.113.66", events, end, cfg)

	reasons := engine.Evaluate(w)
	assert.Contains(t, reasons, models.ReasonHighVolume)
	assert.Contains(t, reasons, models.ReasonHighRate)
	assert.Contains(t, reasons, models.ReasonSensitivePathAccess)
	assert.Contains(t, reasons, models.ReasonBurstPattern)
	assert.NotContains(t, reasons, models.ReasonPathDiversity)
	assert.NotContains(t, reasons, models.ReasonGeoAnomaly)
}

func TestNewWindow_SortsUnorderedEvents(t *testing.T) {
	cfg := testConfig()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []models.RequestEvent{
		{IP: "203.0.113.2", Timestamp: end.Add(-time.Minute), Path: "/b"},
		{IP: "203.0.113.2", Timestamp: end.Add(-30 * time.Minute), Path: "/a"},
	}
	w := NewWindow("203.0.113.2", events, end, cfg)
	require.Len(t, w.Events, 2)
	assert.True(t, w.Events[0].Timestamp.Before(w.Events[1].Timestamp))
}
