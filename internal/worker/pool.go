// Package worker is the Worker Pool: one blocking-dequeue loop per process,
// bounding concurrent job executions with a semaphore. Adapted from the
// teacher's webhook Dispatcher worker-pool idiom (fixed goroutine count
// draining a channel, sync.WaitGroup for shutdown) — generalized from N
// goroutines racing one channel to one dequeue loop gated by a semaphore,
// since the Job Queue's BlockingPop already serializes dequeue ordering
// and only the downstream orchestrator execution needs bounding.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/queue"
)

const defaultPopTimeout = 5 * time.Second

// Runner drives one job to completion, following the Orchestrator's
// contract: a nil error means success, a non-nil error is always an
// *apierr.Error whose Retryable() decides whether the Worker Pool
// re-enters its dequeue loop (the job stays queued-for-retry) or absorbs
// the failure (the orchestrator already wrote terminal state).
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Pool runs the worker_loop: blocking-pop with a five-second wait, handling
// each payload under a semaphore capping concurrent executions.
type Pool struct {
	queue       *queue.Queue
	fabric      fabric.Gateway
	runner      Runner
	concurrency int
	popTimeout  time.Duration

	wg sync.WaitGroup
}

func NewPool(q *queue.Queue, gw fabric.Gateway, runner Runner, concurrency int, popTimeout time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 3
	}
	if popTimeout <= 0 {
		popTimeout = defaultPopTimeout
	}
	return &Pool{queue: q, fabric: gw, runner: runner, concurrency: concurrency, popTimeout: popTimeout}
}

// Run executes worker_loop until ctx is cancelled: blocking-pop, check the
// cancellation marker, hand the payload to a semaphore-bounded goroutine,
// repeat. Returns once all in-flight executions have drained.
func (p *Pool) Run(ctx context.Context) {
	semaphore := make(chan struct{}, p.concurrency)

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		default:
		}

		entry, err := p.queue.BlockingPop(ctx, p.popTimeout)
		if err != nil {
			slog.Error("worker: blocking pop failed", "error", err)
			continue
		}
		if entry == nil {
			continue
		}

		// The cancellation marker is checked here to skip spawning a
		// goroutine at all for an already-cancelled job; the Orchestrator
		// repeats the same check before its first stage, so a job that
		// slips past this check (set cancelled concurrently with dequeue)
		// still terminates correctly with failure state written.
		if p.cancelled(ctx, entry.JobID) {
			p.execute(ctx, entry.JobID)
			continue
		}

		semaphore <- struct{}{}
		p.wg.Add(1)
		go func(jobID string) {
			defer func() {
				<-semaphore
				p.wg.Done()
			}()
			p.execute(ctx, jobID)
		}(entry.JobID)
	}
}

func (p *Pool) execute(ctx context.Context, jobID string) {
	defer p.finalize(ctx, jobID)

	err := p.runner.Run(ctx, jobID)
	if err == nil {
		return
	}

	if apiErr, ok := apierr.As(err); ok && apiErr.Retryable() {
		slog.Warn("worker: job failed with retryable error, will be re-delivered", "job_id", jobID, "error", err)
		return
	}
	// Non-retryable: the orchestrator has already persisted failure state.
	slog.Error("worker: job failed terminally", "job_id", jobID, "error", err)
}

// finalize always removes the job from the processing set and deletes its
// payload key, regardless of how execution concluded.
func (p *Pool) finalize(ctx context.Context, jobID string) {
	if err := p.queue.Remove(ctx, jobID); err != nil {
		slog.Warn("worker: finalize job", "job_id", jobID, "error", err)
	}
}

func (p *Pool) cancelled(ctx context.Context, jobID string) bool {
	_, ok, err := p.fabric.Get(ctx, "job_cancel:"+jobID)
	if err != nil {
		return false
	}
	return ok
}
