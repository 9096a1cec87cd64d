package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/objectstore"
	"github.com/ocx/videogen/internal/store"
)

const (
	videoOutputsBucket = "video-outputs"
	signedURLTTL       = time.Hour
)

// DownloadHandler mints a signed URL for a completed job's final video.
type DownloadHandler struct {
	store   store.Store
	objects objectstore.ObjectStore
}

func NewDownloadHandler(st store.Store, objs objectstore.ObjectStore) *DownloadHandler {
	return &DownloadHandler{store: st, objects: objs}
}

func (h *DownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	if job.Status != store.JobStatusCompleted {
		WriteError(w, r, apierr.NotFound("job %s has not completed", jobID))
		return
	}

	path := fmt.Sprintf("%s/final_video.mp4", jobID)
	url, err := h.objects.SignedURL(r.Context(), videoOutputsBucket, path, signedURLTTL)
	if err != nil {
		if _, ok := err.(*objectstore.NotFoundError); ok {
			WriteError(w, r, apierr.Gone("no video artifact found for job %s", jobID))
			return
		}
		WriteError(w, r, apierr.Retryable(err, "failed to mint signed url"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"download_url": url,
		"expires_in":   int(signedURLTTL.Seconds()),
		"filename":     "final_video.mp4",
	})
}
