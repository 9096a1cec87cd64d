package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/store"
)

func newTestRequest(method, path, jobID, userID string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r = mux.SetURLVars(r, map[string]string{"id": jobID})
	if userID != "" {
		r = r.WithContext(withUserID(r.Context(), userID))
	}
	return r
}

func TestJobsHandler_GetJob_OwnershipEnforced(t *testing.T) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	h := NewJobsHandler(st, gw)

	require.NoError(t, st.CreateJob(context.Background(), &store.Job{ID: "job-1", UserID: "user-a", Status: store.JobStatusQueued}))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/api/v1/jobs/job-1", "job-1", "user-b")
	h.GetJob(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJobsHandler_GetJob_CachesAfterMiss(t *testing.T) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	h := NewJobsHandler(st, gw)
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, &store.Job{ID: "job-1", UserID: "user-a", Status: store.JobStatusQueued}))

	w := httptest.NewRecorder()
	r := newTestRequest(http.MethodGet, "/api/v1/jobs/job-1", "job-1", "user-a")
	h.GetJob(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	cached, ok, err := gw.Get(ctx, jobStatusCacheKey("job-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(cached), "job-1")
}

func TestJobsHandler_ListJobs_RejectsInvalidStatus(t *testing.T) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	h := NewJobsHandler(st, gw)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=bogus", nil)
	r = r.WithContext(withUserID(r.Context(), "user-a"))
	w := httptest.NewRecorder()
	h.ListJobs(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobsHandler_ListJobs_PaginatesDescending(t *testing.T) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	h := NewJobsHandler(st, gw)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.CreateJob(ctx, &store.Job{ID: "job-" + string(rune('a'+i)), UserID: "user-a", Status: store.JobStatusQueued}))
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=2&offset=0", nil)
	r = r.WithContext(withUserID(r.Context(), "user-a"))
	w := httptest.NewRecorder()
	h.ListJobs(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":3`)

	var resp struct {
		Jobs []store.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	assert.False(t, resp.Jobs[0].CreatedAt.Before(resp.Jobs[1].CreatedAt), "jobs are listed newest first")
}
