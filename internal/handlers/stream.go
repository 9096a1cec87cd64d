package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/events"
	"github.com/ocx/videogen/internal/security"
	"github.com/ocx/videogen/internal/store"
	"github.com/ocx/videogen/internal/streaming"
)

// StreamHandler serves the SSE subscription endpoint, bridging the
// DurableBus (local fan-out plus Redis-forwarded remote events) into the
// Hub's per-job fan-out. One bridge goroutine runs per job regardless of
// how many concurrent SSE connections that job has, so Hub.Deliver (which
// already fans out to every connection) is not repeated per connection. The
// bridge listens on both the local bus and the fabric subscription, so an
// event emitted in this process reaches Hub.Deliver twice: once locally and
// once back through the fabric.
type StreamHandler struct {
	store     store.Store
	validator *security.Validator
	bus       *events.DurableBus
	hub       *streaming.Hub

	mu      sync.Mutex
	bridges map[string]*jobBridge
}

type jobBridge struct {
	refCount int
	cancel   context.CancelFunc
}

func NewStreamHandler(st store.Store, validator *security.Validator, bus *events.DurableBus, hub *streaming.Hub) *StreamHandler {
	return &StreamHandler{store: st, validator: validator, bus: bus, hub: hub, bridges: make(map[string]*jobBridge)}
}

// acquireBridge starts forwarding jobID's bus events into the Hub if this is
// the first live connection for that job, otherwise joins the existing one.
func (h *StreamHandler) acquireBridge(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.bridges[jobID]; ok {
		b.refCount++
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.bridges[jobID] = &jobBridge{refCount: 1, cancel: cancel}

	localCh := h.bus.Subscribe(jobID)
	unsubscribeRemote, _ := h.bus.SubscribeRemote(ctx, jobID)

	go func() {
		defer h.bus.Unsubscribe(jobID, localCh)
		if unsubscribeRemote != nil {
			defer unsubscribeRemote()
		}
		for {
			select {
			case evt, ok := <-localCh:
				if !ok {
					return
				}
				h.hub.Deliver(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// releaseBridge tears the job's bridge down once its last connection ends.
func (h *StreamHandler) releaseBridge(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.bridges[jobID]
	if !ok {
		return
	}
	b.refCount--
	if b.refCount <= 0 {
		b.cancel()
		delete(h.bridges, jobID)
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	userID, err := authenticateRequest(r, h.validator, true)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, r, apierr.NotFound("job %s not found", jobID))
		return
	}
	if job.UserID != userID {
		WriteError(w, r, apierr.Ownership("job %s does not belong to this user", jobID))
		return
	}

	h.acquireBridge(jobID)
	defer h.releaseBridge(jobID)

	initialState := map[string]interface{}{
		"progress":   job.Progress,
		"stage":      job.CurrentStage,
		"status":     job.Status,
		"total_cost": job.TotalCostMillidollars,
	}

	if err := h.hub.ServeSSE(w, r, jobID, userID, initialState); err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindConflict {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]interface{}{
				"error":      apiErr.Message,
				"code":       apiErr.Code,
				"retryable":  apiErr.Retryable(),
				"request_id": requestIDFromContext(r.Context()),
			})
			return
		}
		WriteError(w, r, err)
	}
}
