package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sentriq/ipwatch/internal/models"
)

// MemoryEventStore is an in-memory EventStore for tests and embedded use.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []models.RequestEvent
	nextID int64
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{nextID: 1}
}

func (s *MemoryEventStore) Append(ctx context.Context, ev *models.RequestEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.nextID
	s.nextID++
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryEventStore) ListByIP(ctx context.Context, ip string, from, to time.Time) ([]models.RequestEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RequestEvent
	for _, ev := range s.events {
		if ev.IP == ip && !ev.Timestamp.Before(from) && ev.Timestamp.Before(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryEventStore) DistinctIPs(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, ev := range s.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		if _, ok := seen[ev.IP]; !ok {
			seen[ev.IP] = struct{}{}
			out = append(out, ev.IP)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

func (s *MemoryEventStore) Summary(ctx context.Context, since time.Time, topN int) (*TrafficSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ips := make(map[string]struct{})
	countries := make(map[string]int64)
	paths := make(map[string]int64)
	var total int64
	for _, ev := range s.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		total++
		ips[ev.IP] = struct{}{}
		if ev.Country != "" {
			countries[ev.Country]++
		}
		paths[ev.Path]++
	}
	return &TrafficSummary{
		TotalRequests: total,
		UniqueIPs:     int64(len(ips)),
		TopCountries:  topCounts(countries, topN),
		TopPaths:      topCounts(paths, topN),
	}, nil
}

func topCounts(m map[string]int64, n int) []LabelCount {
	out := make([]LabelCount, 0, len(m))
	for label, count := range m {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// MemoryBlocklistStore is an in-memory BlocklistStore.
type MemoryBlocklistStore struct {
	mu      sync.RWMutex
	entries map[string]models.BlockedEntry
}

// NewMemoryBlocklistStore creates an empty in-memory blocklist store.
func NewMemoryBlocklistStore() *MemoryBlocklistStore {
	return &MemoryBlocklistStore{entries: make(map[string]models.BlockedEntry)}
}

func (s *MemoryBlocklistStore) Put(ctx context.Context, entry *models.BlockedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.IP]; ok {
		return ErrAlreadyBlocked
	}
	s.entries[entry.IP] = *entry
	return nil
}

func (s *MemoryBlocklistStore) Delete(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[ip]; !ok {
		return ErrNotFound
	}
	delete(s.entries, ip)
	return nil
}

func (s *MemoryBlocklistStore) Exists(ctx context.Context, ip string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[ip]
	return ok, nil
}

func (s *MemoryBlocklistStore) List(ctx context.Context) ([]models.BlockedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BlockedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

// MemoryFindingStore is an in-memory FindingStore.
type MemoryFindingStore struct {
	mu       sync.RWMutex
	findings []models.SuspicionFinding
}

// NewMemoryFindingStore creates an empty in-memory finding store.
func NewMemoryFindingStore() *MemoryFindingStore {
	return &MemoryFindingStore{}
}

func (s *MemoryFindingStore) Insert(ctx context.Context, f *models.SuspicionFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, *f)
	return nil
}

func (s *MemoryFindingStore) ActiveExists(ctx context.Context, ip string, reason models.Reason) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.findings {
		if f.IsActive && f.IP == ip && f.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryFindingStore) Deactivate(ctx context.Context, ip string, reason models.Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.findings {
		if s.findings[i].IsActive && s.findings[i].IP == ip && s.findings[i].Reason == reason {
			s.findings[i].IsActive = false
		}
	}
	return nil
}

func (s *MemoryFindingStore) DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept int64
	for i := range s.findings {
		if s.findings[i].IsActive && s.findings[i].DetectedAt.Before(cutoff) {
			s.findings[i].IsActive = false
			swept++
		}
	}
	return swept, nil
}

func (s *MemoryFindingStore) List(ctx context.Context, activeOnly bool, limit int) ([]models.SuspicionFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SuspicionFinding
	for _, f := range s.findings {
		if activeOnly && !f.IsActive {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryFindingStore) CountActive(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, f := range s.findings {
		if f.IsActive {
			count++
		}
	}
	return count, nil
}
