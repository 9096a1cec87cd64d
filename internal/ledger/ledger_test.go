package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/store"
)

func fixedLimit(limit int64) BudgetLimitFunc {
	return func(env string) int64 { return limit }
}

func seedJob(t *testing.T, st store.Store, jobID string) {
	t.Helper()
	require.NoError(t, st.CreateJob(context.Background(), &store.Job{
		ID:     jobID,
		UserID: "user-1",
		Status: store.JobStatusProcessing,
	}))
}

func TestLedger_TrackCostAccumulates(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1")
	l := New(st, 4, fixedLimit(100000))

	ctx := context.Background()
	total, err := l.TrackCost(ctx, "job-1", "analysis", "audio-api", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)

	total, err = l.TrackCost(ctx, "job-1", "generation", "video-api", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), total)

	entries, err := st.ListCostEntries(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLedger_EnforceTripsOverBudget(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-2")
	l := New(st, 4, fixedLimit(5000))

	ctx := context.Background()
	_, err := l.TrackCost(ctx, "job-2", "generation", "video-api", 6000)
	require.NoError(t, err)

	err = l.Enforce(ctx, "job-2", "production")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindBudgetExceeded, apiErr.Kind)
}

func TestLedger_WouldExceed(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-3")
	l := New(st, 4, fixedLimit(10000))

	ctx := context.Background()
	_, err := l.TrackCost(ctx, "job-3", "analysis", "audio-api", 8000)
	require.NoError(t, err)

	exceeds, err := l.WouldExceed(ctx, "job-3", "production", 1000)
	require.NoError(t, err)
	assert.False(t, exceeds)

	exceeds, err = l.WouldExceed(ctx, "job-3", "production", 3000)
	require.NoError(t, err)
	assert.True(t, exceeds)
}

func TestLedger_ConcurrentTrackCostIsSerializedPerJob(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, "job-4")
	l := New(st, 8, fixedLimit(1_000_000))

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.TrackCost(ctx, "job-4", "generation", "video-api", 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := l.Total(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, int64(500), total)
}
