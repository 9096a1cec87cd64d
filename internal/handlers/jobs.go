package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/store"
)

const jobStatusCacheTTL = 30 * time.Second

var validJobStatuses = map[string]bool{
	store.JobStatusQueued:     true,
	store.JobStatusProcessing: true,
	store.JobStatusCompleted:  true,
	store.JobStatusFailed:     true,
}

// JobsHandler serves job-status lookups and the user's job listing.
type JobsHandler struct {
	store  store.Store
	fabric fabric.Gateway
}

func NewJobsHandler(st store.Store, gw fabric.Gateway) *JobsHandler {
	return &JobsHandler{store: st, fabric: gw}
}

func jobStatusCacheKey(jobID string) string { return "job_status:" + jobID }

// GetJob serves GET /api/v1/jobs/{id}, checking ownership before consulting
// the 30-second job-status cache, which is authoritative once ownership is
// confirmed.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r)
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, r, apierr.NotFound("job %s not found", jobID))
		return
	}
	if job.UserID != userID {
		WriteError(w, r, apierr.Ownership("job %s does not belong to this user", jobID))
		return
	}

	cacheKey := jobStatusCacheKey(jobID)
	if cached, ok, err := h.fabric.Get(r.Context(), cacheKey); err == nil && ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	payload, err := json.Marshal(job)
	if err == nil {
		_ = h.fabric.Set(r.Context(), cacheKey, payload, jobStatusCacheTTL)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, job)
}

// ListJobs serves GET /api/v1/jobs: filter by owning user and optional
// status, ordered by created_at descending, paginated.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r)

	status := r.URL.Query().Get("status")
	if status != "" && !validJobStatuses[status] {
		WriteError(w, r, apierr.Validation("invalid status filter: %s", status))
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 50 {
			WriteError(w, r, apierr.Validation("limit must be between 1 and 50"))
			return
		}
		limit = parsed
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			WriteError(w, r, apierr.Validation("offset must be non-negative"))
			return
		}
		offset = parsed
	}

	jobs, err := h.store.ListJobsByUser(r.Context(), userID, status, limit, offset)
	if err != nil {
		WriteError(w, r, apierr.Retryable(err, "failed to list jobs"))
		return
	}
	total, err := h.store.CountJobsByUser(r.Context(), userID, status)
	if err != nil {
		WriteError(w, r, apierr.Retryable(err, "failed to count jobs"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
