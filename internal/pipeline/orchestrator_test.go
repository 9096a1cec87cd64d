package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/events"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/ledger"
	"github.com/ocx/videogen/internal/media"
	"github.com/ocx/videogen/internal/metrics"
	"github.com/ocx/videogen/internal/store"
)

func newTestOrchestrator(t *testing.T, budgetLimit int64, fake *media.FakeStages) (*Orchestrator, *store.MemoryStore, *fabric.MemoryGateway) {
	t.Helper()
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	lg := ledger.New(st, 4, func(env string) int64 { return budgetLimit })
	bus := events.NewDurableBus(gw)
	orch := New(st, gw, lg, bus, fake, metrics.New(), "production")
	return orch, st, gw
}

func seedQueuedJob(t *testing.T, st *store.MemoryStore, jobID string) {
	t.Helper()
	require.NoError(t, st.CreateJob(context.Background(), &store.Job{
		ID: jobID, UserID: "user-1", Status: store.JobStatusQueued,
		AudioURL: "s3://bucket/audio.wav", UserPrompt: "a synthwave retrospective",
	}))
}

func TestOrchestrator_HappyPathCompletesJob(t *testing.T) {
	orch, st, _ := newTestOrchestrator(t, 2_000_000, media.NewFakeStages())
	seedQueuedJob(t, st, "job-1")

	err := orch.Run(context.Background(), "job-1")
	require.NoError(t, err)

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotEmpty(t, job.VideoURL)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, int64(150_000), job.TotalCostMillidollars, "completion write must not clobber the Ledger's accumulated total")
}

func TestOrchestrator_DegradableReferenceFailureStillCompletes(t *testing.T) {
	fake := media.NewFakeStages()
	fake.FailReferences = true
	orch, st, _ := newTestOrchestrator(t, 2_000_000, fake)
	seedQueuedJob(t, st, "job-1")

	err := orch.Run(context.Background(), "job-1")
	require.NoError(t, err)

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, job.Status)

	rec, err := st.GetStageRecord(context.Background(), "job-1", StageReferences)
	require.NoError(t, err)
	assert.Equal(t, store.StageStatusFailed, rec.Status)
	assert.Equal(t, true, rec.Metadata["fallback_mode"])
}

func TestOrchestrator_CancellationPreCheckTerminatesJob(t *testing.T) {
	orch, st, gw := newTestOrchestrator(t, 2_000_000, media.NewFakeStages())
	seedQueuedJob(t, st, "job-1")
	require.NoError(t, gw.Set(context.Background(), "job_cancel:job-1", []byte("1"), 15*time.Minute))

	err := orch.Run(context.Background(), "job-1")
	require.Error(t, err)

	job, getErr := st.GetJob(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, store.JobStatusFailed, job.Status)
	assert.Equal(t, "Job cancelled by user", job.ErrorMessage)
	assert.Equal(t, 0, job.Progress)
}

func TestOrchestrator_BudgetExceededTerminatesJobBeforeReferences(t *testing.T) {
	st := store.NewMemoryStore()
	gw := fabric.NewMemoryGateway()
	lg := ledger.New(st, 4, func(env string) int64 { return 10_000 })
	bus := events.NewDurableBus(gw)
	orch := New(st, gw, lg, bus, media.NewFakeStages(), metrics.New(), "production")
	seedQueuedJob(t, st, "job-1")

	ch := bus.Subscribe("job-1")
	defer bus.Unsubscribe("job-1", ch)

	err := orch.Run(context.Background(), "job-1")
	require.Error(t, err)

	job, getErr := st.GetJob(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, store.JobStatusFailed, job.Status)
	assert.Equal(t, 20, job.Progress, "progress should be stuck at the last completed stage (planning)")

	var errEvent *events.Event
	for _, evt := range drain(ch) {
		if evt.EventType == "error" {
			errEvent = evt
			break
		}
	}
	require.NotNil(t, errEvent, "expected a terminal error event")
	assert.Equal(t, "BUDGET_EXCEEDED", errEvent.Data["code"])
}

// drain collects whatever's already buffered on ch without blocking further.
func drain(ch chan *events.Event) []*events.Event {
	var out []*events.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestOrchestrator_InsufficientClipsFailsJob(t *testing.T) {
	fake := media.NewFakeStages()
	fake.ClipCount = 1
	orch, st, _ := newTestOrchestrator(t, 2_000_000, fake)
	seedQueuedJob(t, st, "job-1")

	err := orch.Run(context.Background(), "job-1")
	require.Error(t, err)

	job, getErr := st.GetJob(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, store.JobStatusFailed, job.Status)
}

func TestOrchestrator_AnalysisResultIsCachedByContentHash(t *testing.T) {
	orch, st, gw := newTestOrchestrator(t, 2_000_000, media.NewFakeStages())
	seedQueuedJob(t, st, "job-1")
	require.NoError(t, orch.Run(context.Background(), "job-1"))

	hash := contentHash("s3://bucket/audio.wav")
	_, ok, err := gw.Get(context.Background(), "audio_cache:"+hash)
	require.NoError(t, err)
	assert.True(t, ok, "analysis result should be cached under its content hash")
}
