package detect

import (
	"sort"
	"strings"
	"time"

	"github.com/sentriq/ipwatch/internal/models"
)

// geoPoint is one geolocated event in arrival order.
type geoPoint struct {
	at      time.Time
	country string
	city    string
}

// Window is one IP's activity over the evaluation window, plus the
// aggregates every detector shares. Aggregates are computed in a single
// pass over the event sequence so the engine scans it once, not once per
// detector.
type Window struct {
	IP     string
	End    time.Time
	Events []models.RequestEvent

	total         int
	recentCount   int // events within (End-RateWindow, End]
	distinctPaths map[string]struct{}
	sensitiveHits []string
	geoTrail      []geoPoint
}

// NewWindow builds a Window for one IP. Events are sorted by timestamp
// if not already ordered.
func NewWindow(ip string, events []models.RequestEvent, end time.Time, cfg Config) *Window {
	if !sort.SliceIsSorted(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	}) {
		sort.Slice(events, func(i, j int) bool {
			return events[i].Timestamp.Before(events[j].Timestamp)
		})
	}

	w := &Window{
		IP:            ip,
		End:           end,
		Events:        events,
		distinctPaths: make(map[string]struct{}),
	}

	rateCutoff := end.Add(-cfg.RateWindow)
	for _, ev := range events {
		w.total++
		w.distinctPaths[ev.Path] = struct{}{}
		if ev.Timestamp.After(rateCutoff) {
			w.recentCount++
		}
		if matchesSensitive(ev.Path, cfg.SensitivePaths) {
			w.sensitiveHits = append(w.sensitiveHits, ev.Path)
		}
		if ev.Country != "" || ev.City != "" {
			w.geoTrail = append(w.geoTrail, geoPoint{
				at:      ev.Timestamp,
				country: ev.Country,
				city:    ev.City,
			})
		}
	}

	return w
}

func matchesSensitive(path string, sensitive []string) bool {
	for _, s := range sensitive {
		if s != "" && strings.Contains(path, s) {
			return true
		}
	}
	return false
}
