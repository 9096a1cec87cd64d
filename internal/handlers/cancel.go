package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/queue"
	"github.com/ocx/videogen/internal/store"
)

const cancelMarkerTTL = 15 * time.Minute

// CancelHandler transitions a queued or processing job to failed, marking
// it cancelled for the queue entry still in flight or for the
// orchestrator's next per-stage pre-check.
type CancelHandler struct {
	store  store.Store
	fabric fabric.Gateway
	queue  *queue.Queue
}

func NewCancelHandler(st store.Store, gw fabric.Gateway, q *queue.Queue) *CancelHandler {
	return &CancelHandler{store: st, fabric: gw, queue: q}
}

func (h *CancelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	switch job.Status {
	case store.JobStatusQueued:
		if err := h.queue.CancelQueued(r.Context(), jobID); err != nil {
			WriteError(w, r, apierr.Retryable(err, "failed to cancel queued job"))
			return
		}
	case store.JobStatusProcessing:
		if err := h.fabric.Set(r.Context(), "job_cancel:"+jobID, []byte("1"), cancelMarkerTTL); err != nil {
			WriteError(w, r, apierr.Retryable(err, "failed to set cancellation marker"))
			return
		}
	default:
		WriteError(w, r, apierr.Validation("job %s is not cancellable from status %s", jobID, job.Status))
		return
	}

	job.Status = store.JobStatusFailed
	job.ErrorMessage = "Job cancelled by user"
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := h.store.UpdateJob(r.Context(), job); err != nil {
		WriteError(w, r, apierr.Retryable(err, "failed to persist cancellation"))
		return
	}
	// Best-effort: a stale cached row is superseded within 30 seconds anyway.
	_ = h.fabric.Del(r.Context(), jobStatusCacheKey(jobID))

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"job_id":  jobID,
		"status":  job.Status,
		"message": job.ErrorMessage,
	})
}
