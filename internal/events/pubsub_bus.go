package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ocx/videogen/internal/fabric"
)

// DurableBus wraps Bus and additionally publishes every event through the
// Fabric gateway's Redis Pub/Sub, following the teacher's dual fan-out
// pattern in pubsub_bus.go (there: Google Cloud Pub/Sub for durability +
// in-memory for SSE; here: Redis Pub/Sub plays the durable-fan-out role).
// A remote Redis subscriber lets another process's SSE Hub see job events
// without the admission and worker processes sharing memory.
type DurableBus struct {
	*Bus
	fabric fabric.Gateway
}

// NewDurableBus wraps the local bus with Redis Pub/Sub fan-out.
func NewDurableBus(gw fabric.Gateway) *DurableBus {
	return &DurableBus{Bus: NewBus(), fabric: gw}
}

// Emit creates an event, fans it out locally (SSE Hub subscribers in this
// process), and publishes it to Redis (other processes' SSE Hubs).
func (d *DurableBus) Emit(ctx context.Context, jobID, eventType string, data map[string]interface{}) *Event {
	event := d.Bus.Emit(jobID, eventType, data)
	d.publishRemote(ctx, event)
	return event
}

func (d *DurableBus) publishRemote(ctx context.Context, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("events: marshal event for redis publish", "error", err, "job_id", event.JobID)
		return
	}
	if err := d.fabric.Publish(ctx, channelName(event.JobID), payload); err != nil {
		slog.Warn("events: redis publish failed", "error", err, "job_id", event.JobID)
	}
}

// SubscribeRemote subscribes to the Redis channel for jobID, forwarding any
// messages published by other processes into the local bus. Returns an
// unsubscribe function. Used by the SSE Hub so a client connected to a
// different process than the one running the orchestrator still sees
// progress events.
func (d *DurableBus) SubscribeRemote(ctx context.Context, jobID string) (func(), error) {
	return d.fabric.Subscribe(ctx, channelName(jobID), func(payload []byte) {
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			slog.Warn("events: unmarshal remote event", "error", err)
			return
		}
		d.Bus.Publish(&event)
	})
}
