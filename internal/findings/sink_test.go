package findings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentriq/ipwatch/internal/models"
	"github.com/sentriq/ipwatch/internal/store"
)

func TestSink_RecordIsIdempotent(t *testing.T) {
	fs := store.NewMemoryFindingStore()
	sink := NewSink(fs, nil)
	ctx := context.Background()

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Record(ctx, "203.0.113.5", models.ReasonHighVolume, t1))
	require.NoError(t, sink.Record(ctx, "203.0.113.5", models.ReasonHighVolume, t1.Add(time.Hour)))

	list, err := sink.List(ctx, true, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "re-detection while active must not create a duplicate")
	assert.Equal(t, t1, list[0].DetectedAt)
}

func TestSink_DistinctReasonsCoexist(t *testing.T) {
	sink := NewSink(store.NewMemoryFindingStore(), nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, sink.Record(ctx, "203.0.113.5", models.ReasonHighVolume, now))
	require.NoError(t, sink.Record(ctx, "203.0.113.5", models.ReasonBurstPattern, now))
	require.NoError(t, sink.Record(ctx, "198.51.100.1", models.ReasonHighVolume, now))

	list, err := sink.List(ctx, true, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestSink_DeactivateAllowsRedetection(t *testing.T) {
	sink := NewSink(store.NewMemoryFindingStore(), nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, sink.Record(ctx, "203.0.113.5", models.ReasonHighVolume, now))
	require.NoError(t, sink.Deactivate(ctx, "203.0.113.5", models.ReasonHighVolume))

	active, err := sink.List(ctx, true, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	// The condition can be re-flagged once the previous finding is cleared.
	require.NoError(t, sink.Record(ctx, "203.0.113.5", models.ReasonHighVolume, now.Add(time.Hour)))
	active, err = sink.List(ctx, true, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := sink.List(ctx, false, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2, "deactivated findings are kept, not deleted")
}

func TestSink_SweepStale(t *testing.T) {
	sink := NewSink(store.NewMemoryFindingStore(), nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, sink.Record(ctx, "203.0.113.1", models.ReasonHighRate, now.Add(-10*24*time.Hour)))
	require.NoError(t, sink.Record(ctx, "203.0.113.2", models.ReasonHighRate, now.Add(-time.Hour)))

	swept, err := sink.SweepStale(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	active, err := sink.List(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "203.0.113.2", active[0].IP)
}

func TestSink_ConcurrentRecordSamePair(t *testing.T) {
	sink := NewSink(store.NewMemoryFindingStore(), nil)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sink.Record(ctx, "203.0.113.5", models.ReasonHighVolume, now)
		}()
	}
	wg.Wait()

	list, err := sink.List(ctx, true, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "concurrent records for the same pair collapse to one finding")
}
