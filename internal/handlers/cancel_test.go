package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/queue"
	"github.com/ocx/videogen/internal/store"
)

func TestCancelHandler_QueuedJobDeletesPayload(t *testing.T) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	q := queue.New(gw, "queue:test", 0)
	h := NewCancelHandler(st, gw, q)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &store.Job{ID: "job-1", UserID: "user-a", Status: store.JobStatusQueued}))
	require.NoError(t, q.Enqueue(ctx, queue.Entry{JobID: "job-1", UserID: "user-a"}))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodPost, "/api/v1/jobs/job-1/cancel", "job-1", "user-a")
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusFailed, job.Status)

	_, ok, err := gw.Get(ctx, "job:job-1")
	require.NoError(t, err)
	assert.False(t, ok, "cancelling a queued job deletes its payload key")
}

func TestCancelHandler_ProcessingJobSetsMarker(t *testing.T) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	q := queue.New(gw, "queue:test", 0)
	h := NewCancelHandler(st, gw, q)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &store.Job{ID: "job-1", UserID: "user-a", Status: store.JobStatusProcessing}))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodPost, "/api/v1/jobs/job-1/cancel", "job-1", "user-a")
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	_, ok, err := gw.Get(ctx, "job_cancel:job-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelHandler_RejectsCompletedJob(t *testing.T) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	q := queue.New(gw, "queue:test", 0)
	h := NewCancelHandler(st, gw, q)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &store.Job{ID: "job-1", UserID: "user-a", Status: store.JobStatusCompleted}))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodPost, "/api/v1/jobs/job-1/cancel", "job-1", "user-a")
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
