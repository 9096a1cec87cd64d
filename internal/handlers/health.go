package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/queue"
	"github.com/ocx/videogen/internal/store"
)

// HealthHandler probes the Store and Fabric gateways: 200 healthy, or 503
// with the list of failing dependencies. The healthy response's queue_depth
// is the size of the processing set (jobs a worker has popped and not yet
// finalized); jobs still waiting on the FIFO list are not counted.
type HealthHandler struct {
	store  store.Store
	fabric fabric.Gateway
	queue  *queue.Queue
}

func NewHealthHandler(st store.Store, gw fabric.Gateway, q *queue.Queue) *HealthHandler {
	return &HealthHandler{store: st, fabric: gw, queue: q}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var issues []string

	if err := h.fabric.Ping(ctx); err != nil {
		issues = append(issues, "cache/broker: "+err.Error())
	}

	if _, err := h.store.ListJobsByUser(ctx, "__healthcheck__", "", 1, 0); err != nil {
		issues = append(issues, "store: "+err.Error())
	}

	inFlight, err := h.queue.InFlight(ctx)
	queueDepth := len(inFlight)
	if err != nil {
		issues = append(issues, "queue: "+err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	if len(issues) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]interface{}{
			"status": "unhealthy",
			"issues": issues,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]interface{}{
		"status":      "healthy",
		"queue_depth": queueDepth,
	})
}
