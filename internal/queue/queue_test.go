package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/fabric"
)

func TestQueue_EnqueueAndBlockingPop(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	q := New(gw, "", 0)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Entry{JobID: "job-1", UserID: "user-1", AudioURL: "s3://a", UserPrompt: "p"}))

	entry, err := q.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "job-1", entry.JobID)

	inFlight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Contains(t, inFlight, "job-1")
}

func TestQueue_FIFOOrder(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	q := New(gw, "", 0)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Entry{JobID: "job-1"}))
	require.NoError(t, q.Enqueue(ctx, Entry{JobID: "job-2"}))

	first, err := q.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "job-1", first.JobID)

	second, err := q.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "job-2", second.JobID)
}

func TestQueue_RemoveClearsProcessingAndPayload(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	q := New(gw, "", 0)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Entry{JobID: "job-1"}))
	_, err := q.BlockingPop(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, "job-1"))

	inFlight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.NotContains(t, inFlight, "job-1")

	_, ok, err := gw.Get(ctx, payloadKey("job-1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_BlockingPopTimesOutWhenEmpty(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	q := New(gw, "", 0)

	entry, err := q.BlockingPop(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, entry)
}
