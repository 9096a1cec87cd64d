// Package streaming is the SSE Hub: an in-process registry of live client
// subscriptions per job, fanning out from the Event Bus over
// Server-Sent-Events, with a heartbeat/eviction sweeper. Adapted from the
// teacher's DAGStreamer register/unregister/broadcast hub
// (internal/websocket/dag_streamer.go), changed from a single global
// WebSocket client set to a map[jobID][]*Subscription capped at 10 per job,
// and from gorilla/websocket transport to net/http.Flusher SSE (the
// teacher's own HandleSSEStream shows this idiom too).
package streaming

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/events"
)

const defaultMaxConnectionsPerJob = 10

// Subscription is a per-connection inbound event buffer, owned by the Hub
// for the lifetime of the HTTP response.
type Subscription struct {
	JobID         string
	UserID        string
	ch            chan *events.Event
	lastHeartbeat time.Time
}

// Hub fans out job events to subscribed SSE connections.
type Hub struct {
	mu                sync.Mutex
	subs              map[string][]*Subscription // jobID -> subscriptions
	maxPerJob         int
	heartbeatInterval time.Duration
	staleTimeout      time.Duration
}

func NewHub(maxPerJob int, heartbeatInterval, staleTimeout time.Duration) *Hub {
	if maxPerJob <= 0 {
		maxPerJob = defaultMaxConnectionsPerJob
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	if staleTimeout <= 0 {
		staleTimeout = 60 * time.Second
	}
	return &Hub{
		subs:              make(map[string][]*Subscription),
		maxPerJob:         maxPerJob,
		heartbeatInterval: heartbeatInterval,
		staleTimeout:      staleTimeout,
	}
}

// Subscribe registers a new connection for jobID, rejecting it once the
// per-job cap is reached.
func (h *Hub) Subscribe(jobID, userID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.subs[jobID]) >= h.maxPerJob {
		return nil, apierr.Conflict("maximum %d live connections per job exceeded", h.maxPerJob)
	}

	sub := &Subscription{
		JobID:         jobID,
		UserID:        userID,
		ch:            make(chan *events.Event, 16),
		lastHeartbeat: time.Now(),
	}
	h.subs[jobID] = append(h.subs[jobID], sub)
	return sub, nil
}

// Unsubscribe removes a connection from the registry.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[sub.JobID]
	filtered := subs[:0]
	for _, s := range subs {
		if s != sub {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		delete(h.subs, sub.JobID)
	} else {
		h.subs[sub.JobID] = filtered
	}
	close(sub.ch)
}

// Deliver pushes an event to all of a job's subscriptions, never blocking
// the publisher on a slow reader. This method takes a snapshot of the
// current subscriber slice under lock and delivers outside the lock, so a
// blocked channel send never holds up Subscribe/Unsubscribe for other jobs.
func (h *Hub) Deliver(event *events.Event) {
	h.mu.Lock()
	subs := append([]*Subscription(nil), h.subs[event.JobID]...)
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// touch records a heartbeat for the connection, called after each event
// frame and each periodic `event: heartbeat` frame written to the client.
func (h *Hub) touch(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.lastHeartbeat = time.Now()
}

// SweepStale evicts subscriptions that haven't heartbeat within staleTimeout
// and returns how many were removed. Intended to run on a ticker alongside
// the heartbeat loop.
func (h *Hub) SweepStale() int {
	h.mu.Lock()
	cutoff := time.Now().Add(-h.staleTimeout)
	var toClose []*Subscription
	for jobID, subs := range h.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.lastHeartbeat.Before(cutoff) {
				toClose = append(toClose, s)
			} else {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(h.subs, jobID)
		} else {
			h.subs[jobID] = kept
		}
	}
	h.mu.Unlock()

	for _, s := range toClose {
		close(s.ch)
	}
	return len(toClose)
}

// ConnectionCount returns the number of live subscriptions for a job.
func (h *Hub) ConnectionCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// RunSweeper runs the heartbeat/eviction sweeper until ctx is cancelled.
func (h *Hub) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SweepStale()
		}
	}
}

// ServeSSE streams events for one job to the given response, replaying the
// initial state first, then heartbeating every heartbeatInterval until the
// client disconnects or the context is cancelled.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, jobID, userID string, initialState map[string]interface{}) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return apierr.Pipeline(nil, "response writer does not support streaming")
	}

	sub, err := h.Subscribe(jobID, userID)
	if err != nil {
		return err
	}
	defer h.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	initialEvent := &events.Event{EventType: "progress", JobID: jobID, Data: initialState, Time: time.Now().UTC()}
	frame, err := initialEvent.SSEFormat()
	if err == nil {
		w.Write(frame)
		flusher.Flush()
	}

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.ch:
			if !ok {
				return nil
			}
			frame, err := evt.SSEFormat()
			if err != nil {
				continue
			}
			w.Write(frame)
			flusher.Flush()
			h.touch(sub)

		case <-ticker.C:
			heartbeat := &events.Event{EventType: "heartbeat", JobID: jobID, Data: map[string]interface{}{"timestamp": time.Now().UTC()}, Time: time.Now().UTC()}
			frame, err := heartbeat.SSEFormat()
			if err == nil {
				w.Write(frame)
				flusher.Flush()
			}
			h.touch(sub)

		case <-r.Context().Done():
			return nil
		}
	}
}
