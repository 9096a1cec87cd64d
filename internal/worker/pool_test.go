package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/queue"
)

type countingRunner struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	ran      []string
	failWith error
}

func (r *countingRunner) Run(ctx context.Context, jobID string) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxSeen {
		r.maxSeen = r.inFlight
	}
	r.ran = append(r.ran, jobID)
	r.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()

	return r.failWith
}

func TestPool_BoundsConcurrentExecutionsBySemaphore(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	q := queue.New(gw, "", 0)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Enqueue(ctx, queue.Entry{JobID: string(rune('a' + i))}))
	}

	runner := &countingRunner{}
	pool := NewPool(q, gw, runner, 2, 50*time.Millisecond)

	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	pool.Run(runCtx)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.LessOrEqual(t, runner.maxSeen, 2, "no more than the configured concurrency should run at once")
	assert.Len(t, runner.ran, 6)
}

func TestPool_RemovesJobFromProcessingSetAfterExecution(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	q := queue.New(gw, "", 0)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.Entry{JobID: "job-1"}))

	runner := &countingRunner{}
	pool := NewPool(q, gw, runner, 3, 50*time.Millisecond)

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	pool.Run(runCtx)

	inFlight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.NotContains(t, inFlight, "job-1")
}

func TestPool_HandsCancelledJobToRunnerAndFinalizes(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	q := queue.New(gw, "", 0)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.Entry{JobID: "job-1"}))
	require.NoError(t, gw.Set(ctx, "job_cancel:job-1", []byte("1"), 15*time.Minute))

	var calls int32
	runner := runnerFunc(func(ctx context.Context, jobID string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	pool := NewPool(q, gw, runner, 3, 50*time.Millisecond)

	runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	pool.Run(runCtx)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "cancelled job still reaches the runner so it can write terminal state")
	inFlight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.NotContains(t, inFlight, "job-1")
}

func TestPool_RetryableErrorLeavesJobToBeReDelivered(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	q := queue.New(gw, "", 0)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.Entry{JobID: "job-1"}))

	runner := &countingRunner{failWith: apierr.Retryable(nil, "transient fabric error")}
	pool := NewPool(q, gw, runner, 3, 50*time.Millisecond)

	runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	pool.Run(runCtx)

	// The pool always finalizes (removes from processing set / deletes
	// payload) regardless of retryability; re-delivery is the broker's
	// concern via the list entry, not the pool's.
	inFlight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.NotContains(t, inFlight, "job-1")
}

type runnerFunc func(ctx context.Context, jobID string) error

func (f runnerFunc) Run(ctx context.Context, jobID string) error { return f(ctx, jobID) }
