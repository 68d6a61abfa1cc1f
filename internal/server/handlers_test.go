package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentriq/ipwatch/internal/blocklist"
	"github.com/sentriq/ipwatch/internal/detect"
	"github.com/sentriq/ipwatch/internal/findings"
	"github.com/sentriq/ipwatch/internal/geo"
	"github.com/sentriq/ipwatch/internal/models"
	"github.com/sentriq/ipwatch/internal/ratelimit"
	"github.com/sentriq/ipwatch/internal/report"
	"github.com/sentriq/ipwatch/internal/scan"
	"github.com/sentriq/ipwatch/internal/store"
	"github.com/sentriq/ipwatch/internal/tracker"
)

// fixtureDeps wires the handler against in-memory stores.
type fixtureDeps struct {
	events *store.MemoryEventStore
	bl     *blocklist.Cache
	sink   *findings.Sink
}

func newFixture(t *testing.T) (*http.ServeMux, *fixtureDeps) {
	t.Helper()

	events := store.NewMemoryEventStore()
	findingStore := store.NewMemoryFindingStore()
	bl := blocklist.New(store.NewMemoryBlocklistStore(), time.Hour, nil)
	sink := findings.NewSink(findingStore, nil)

	rules := ratelimit.Rules{
		Anonymous: ratelimit.Rule{Limit: 5, Window: time.Minute},
		Authed:    ratelimit.Rule{Limit: 10, Window: time.Minute},
	}
	limiter := ratelimit.NewMemoryLimiter(rules)

	tr := tracker.New(bl, limiter, events, geo.Noop{}, false, nil)

	detectCfg := testDetectConfig()
	engine := detect.NewEngine(detectCfg, nil)
	orch := scan.New(events, engine, sink, detectCfg, scan.Config{
		Lookback:   time.Hour,
		Workers:    4,
		Retention:  720 * time.Hour,
		FindingTTL: 168 * time.Hour,
	}, nil)

	reporter := report.New(events, findingStore)

	h := NewHandler(tr, bl, sink, orch, reporter, nil)
	return NewMux(h), &fixtureDeps{events: events, bl: bl, sink: sink}
}

func testDetectConfig() detect.Config {
	return detect.Config{
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

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	mux, _ := newFixture(t)

	rec := doJSON(t, mux, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestCheck_Allowed(t *testing.T) {
	mux, _ := newFixture(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/check", map[string]string{
		"ip":   "203.0.113.5",
		"path": "/products",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Outcome string `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "allowed", resp.Outcome)
}

func TestCheck_InvalidIP(t *testing.T) {
	mux, _ := newFixture(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/check", map[string]string{
		"ip":   "not-an-ip",
		"path": "/products",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheck_BlockedIP(t *testing.T) {
	mux, deps := newFixture(t)
	require.NoError(t, deps.bl.Block(context.Background(), "203.0.113.9", "manual"))

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/check", map[string]string{
		"ip":   "203.0.113.9",
		"path": "/products",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp struct {
		Outcome string `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "blocked", resp.Outcome)
}

func TestCheck_RateLimited(t *testing.T) {
	mux, _ := newFixture(t)

	body := map[string]string{"ip": "203.0.113.7", "path": "/products"}
	for i := 0; i < 5; i++ {
		rec := doJSON(t, mux, http.MethodPost, "/api/v1/check", body)
		require.Equal(t, http.StatusOK, rec.Code, "request %d should be allowed", i+1)
	}

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/check", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp struct {
		Outcome    string  `json:"outcome"`
		RetryAfter float64 `json:"retry_after_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limited", resp.Outcome)
	assert.Greater(t, resp.RetryAfter, 0.0)
}

func TestCheck_MalformedBody(t *testing.T) {
	mux, _ := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/check", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlocklist_Lifecycle(t *testing.T) {
	mux, _ := newFixture(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/blocklist", map[string]string{
		"ip":     "198.51.100.1",
		"reason": "abuse",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate block conflicts.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/blocklist", map[string]string{"ip": "198.51.100.1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/v1/blocklist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Blocked []models.BlockedEntry `json:"blocked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Blocked, 1)
	assert.Equal(t, "198.51.100.1", list.Blocked[0].IP)
	assert.Equal(t, "abuse", list.Blocked[0].Reason)

	rec = doJSON(t, mux, http.MethodDelete, "/api/v1/blocklist/198.51.100.1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodDelete, "/api/v1/blocklist/198.51.100.1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlock_MissingIP(t *testing.T) {
	mux, _ := newFixture(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/blocklist", map[string]string{"reason": "abuse"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFindings_ListAndDeactivate(t *testing.T) {
	mux, deps := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, deps.sink.Record(ctx, "203.0.113.5", models.ReasonHighVolume, now))
	require.NoError(t, deps.sink.Record(ctx, "203.0.113.5", models.ReasonBurstPattern, now))

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/findings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Findings []models.SuspicionFinding `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Findings, 2)

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/findings/deactivate", map[string]string{
		"ip":     "203.0.113.5",
		"reason": string(models.ReasonHighVolume),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/v1/findings", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Findings, 1)

	// all=true includes the deactivated one.
	rec = doJSON(t, mux, http.MethodGet, "/api/v1/findings?all=true", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Findings, 2)
}

func TestDeactivate_MissingFields(t *testing.T) {
	mux, _ := newFixture(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/findings/deactivate", map[string]string{"ip": "1.2.3.4"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunScan_Sync(t *testing.T) {
	mux, deps := newFixture(t)
	ctx := context.Background()

	// Enough traffic from one IP to trip the volume detector.
	now := time.Now().UTC()
	for i := 0; i < 101; i++ {
		ev := models.RequestEvent{
			IP:        "203.0.113.20",
			Timestamp: now.Add(-time.Duration(i) * 20 * time.Second),
			Path:      fmt.Sprintf("/page/%d", i%3),
		}
		require.NoError(t, deps.events.Append(ctx, &ev))
	}

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		IPsScanned       int   `json:"ips_scanned"`
		FindingsRecorded int64 `json:"findings_recorded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.IPsScanned)
	assert.GreaterOrEqual(t, stats.FindingsRecorded, int64(1))
}

func TestRunScan_Async(t *testing.T) {
	mux, _ := newFixture(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/scan?async=true", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestReport(t *testing.T) {
	mux, deps := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, deps.events.Append(ctx, &models.RequestEvent{
			IP:        "203.0.113.5",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			Path:      "/products",
			Country:   "Japan",
		}))
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/report?period=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep report.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, int64(3), rep.TotalRequests)
	assert.Equal(t, int64(1), rep.UniqueIPs)
	require.NotEmpty(t, rep.TopCountries)
	assert.Equal(t, "Japan", rep.TopCountries[0].Label)
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newFixture(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/check", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
