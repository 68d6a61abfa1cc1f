// Package findings deduplicates and persists suspicion findings. At
// most one active finding exists per (ip, reason) pair; re-detection of
// a condition that is already flagged is a no-op.
package findings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentriq/ipwatch/internal/logging"
	"github.com/sentriq/ipwatch/internal/metrics"
	"github.com/sentriq/ipwatch/internal/models"
	"github.com/sentriq/ipwatch/internal/store"
)

// Sink records findings idempotently. The check-then-insert is
// serialized per (ip, reason) pair only; concurrent records for
// different pairs proceed without contention. The store's partial unique
// index backs this up across processes.
type Sink struct {
	store  store.FindingStore
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSink creates a Sink over the given finding store.
func NewSink(fs store.FindingStore, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{
		store:  fs,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Record persists a new active finding for (ip, reason) unless one is
// already active, in which case it is a no-op.
func (s *Sink) Record(ctx context.Context, ip string, reason models.Reason, detectedAt time.Time) error {
	lock := s.pairLock(ip, reason)
	lock.Lock()
	defer lock.Unlock()

	active, err := s.store.ActiveExists(ctx, ip, reason)
	if err != nil {
		return fmt.Errorf("check active finding: %w", err)
	}
	if active {
		return nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate finding id: %w", err)
	}
	f := &models.SuspicionFinding{
		ID:         id.String(),
		IP:         ip,
		Reason:     reason,
		DetectedAt: detectedAt.UTC(),
		IsActive:   true,
	}
	if err := s.store.Insert(ctx, f); err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}

	metrics.FindingsCreated.WithLabelValues(string(reason)).Inc()
	s.logger.Warn("flagged suspicious ip", "ip", ip, "reason", reason)
	return nil
}

// Deactivate clears the active finding for (ip, reason), used when an
// operator dismisses a flag.
func (s *Sink) Deactivate(ctx context.Context, ip string, reason models.Reason) error {
	lock := s.pairLock(ip, reason)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.Deactivate(ctx, ip, reason); err != nil {
		return fmt.Errorf("deactivate finding: %w", err)
	}
	return nil
}

// SweepStale deactivates findings detected before the cutoff regardless
// of whether the underlying condition persists, so stale flags do not
// accumulate.
func (s *Sink) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	swept, err := s.store.DeactivateOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale findings: %w", err)
	}
	if swept > 0 {
		s.logger.Info("swept stale findings", "count", swept)
	}
	return swept, nil
}

// List returns persisted findings for operator review.
func (s *Sink) List(ctx context.Context, activeOnly bool, limit int) ([]models.SuspicionFinding, error) {
	return s.store.List(ctx, activeOnly, limit)
}

func (s *Sink) pairLock(ip string, reason models.Reason) *sync.Mutex {
	key := ip + "|" + string(reason)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}
