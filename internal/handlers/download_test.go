package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/objectstore"
	"github.com/ocx/videogen/internal/store"
)

func TestDownloadHandler_NotCompletedReturns404(t *testing.T) {
	st := store.NewMemoryStore()
	objs := objectstore.NewMemoryObjectStore()
	h := NewDownloadHandler(st, objs)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &store.Job{ID: "job-1", UserID: "user-a", Status: store.JobStatusProcessing}))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/api/v1/jobs/job-1/download", "job-1", "user-a")
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadHandler_MissingArtifactReturns410(t *testing.T) {
	st := store.NewMemoryStore()
	objs := objectstore.NewMemoryObjectStore()
	h := NewDownloadHandler(st, objs)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &store.Job{ID: "job-1", UserID: "user-a", Status: store.JobStatusCompleted}))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/api/v1/jobs/job-1/download", "job-1", "user-a")
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusGone, w.Code)
}

func TestDownloadHandler_ReturnsSignedURL(t *testing.T) {
	st := store.NewMemoryStore()
	objs := objectstore.NewMemoryObjectStore()
	h := NewDownloadHandler(st, objs)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &store.Job{ID: "job-1", UserID: "user-a", Status: store.JobStatusCompleted}))
	require.NoError(t, objs.Upload(ctx, videoOutputsBucket, "job-1/final_video.mp4", []byte("data"), "video/mp4"))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/api/v1/jobs/job-1/download", "job-1", "user-a")
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "download_url")
}
