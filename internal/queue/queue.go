// Package queue is the Job Queue: a durable FIFO backed by the Fabric
// gateway's list primitives, with a parallel processing set for in-flight
// work and a payload key for crash-resume retrieval by workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ocx/videogen/internal/fabric"
)

// Entry is the record placed on the FIFO list and mirrored at job:{job_id}.
type Entry struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	AudioURL   string    `json:"audio_url"`
	UserPrompt string    `json:"user_prompt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

const (
	defaultQueueKey     = "queue:video_generation"
	processingSetKey    = "processing:video_generation"
	defaultPayloadTTL   = 15 * time.Minute
)

// Queue wraps Fabric's list/set primitives with the Job Queue's contract.
type Queue struct {
	fabric        fabric.Gateway
	queueKey      string
	payloadTTL    time.Duration
}

func New(gw fabric.Gateway, queueKey string, payloadTTL time.Duration) *Queue {
	if queueKey == "" {
		queueKey = defaultQueueKey
	}
	if payloadTTL <= 0 {
		payloadTTL = defaultPayloadTTL
	}
	return &Queue{fabric: gw, queueKey: queueKey, payloadTTL: payloadTTL}
}

func payloadKey(jobID string) string { return "job:" + jobID }

// Enqueue places the entry on the FIFO list and mirrors its payload at
// job:{job_id} with a 15-minute expiration so a crashed worker's successor
// can still retrieve it.
func (q *Queue) Enqueue(ctx context.Context, e Entry) error {
	e.EnqueuedAt = time.Now().UTC()
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("queue: marshal entry: %w", err)
	}

	if err := q.fabric.LPush(ctx, q.queueKey, payload); err != nil {
		return fmt.Errorf("queue: push entry: %w", err)
	}
	if err := q.fabric.Set(ctx, payloadKey(e.JobID), payload, q.payloadTTL); err != nil {
		return fmt.Errorf("queue: set payload: %w", err)
	}
	return nil
}

// BlockingPop removes and returns the next entry, blocking up to timeout.
// The job ID is added to the processing set after the pop, as a separate
// step before the entry is returned; a worker crash between the two leaves
// the job in neither the list nor the processing set (only its payload key
// remains, until it expires).
func (q *Queue) BlockingPop(ctx context.Context, timeout time.Duration) (*Entry, error) {
	raw, err := q.fabric.BRPop(ctx, timeout, q.queueKey)
	if err != nil {
		return nil, fmt.Errorf("queue: blocking pop: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("queue: unmarshal entry: %w", err)
	}

	if err := q.fabric.SAdd(ctx, processingSetKey, e.JobID); err != nil {
		return nil, fmt.Errorf("queue: add to processing set: %w", err)
	}

	return &e, nil
}

// Remove clears a job from the processing set and deletes its payload key,
// called by the worker in a finally-style defer regardless of outcome.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	if err := q.fabric.SRem(ctx, processingSetKey, jobID); err != nil {
		return fmt.Errorf("queue: remove from processing set: %w", err)
	}
	if err := q.fabric.Del(ctx, payloadKey(jobID)); err != nil {
		return fmt.Errorf("queue: delete payload: %w", err)
	}
	return nil
}

// CancelQueued deletes a job's payload key ahead of a worker ever dequeuing
// it. The FIFO list entry is intentionally left in place — deleting from
// the middle of a broker list isn't a cheap primitive, so it lingers until
// a worker pops it. No cancellation marker is set for a queued job, so the
// worker hands it to the runner, and the Orchestrator's Run finds the job
// no longer queued (the cancel handler already marked it failed) and
// returns without running any stage.
func (q *Queue) CancelQueued(ctx context.Context, jobID string) error {
	if err := q.fabric.Del(ctx, payloadKey(jobID)); err != nil {
		return fmt.Errorf("queue: delete payload on cancel: %w", err)
	}
	return nil
}

// InFlight lists job IDs currently in the processing set; the health
// handler reports its length as queue_depth.
func (q *Queue) InFlight(ctx context.Context) ([]string, error) {
	return q.fabric.SMembers(ctx, processingSetKey)
}
