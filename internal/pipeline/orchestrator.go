package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/events"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/ledger"
	"github.com/ocx/videogen/internal/media"
	"github.com/ocx/videogen/internal/metrics"
	"github.com/ocx/videogen/internal/store"
)

const (
	analysisCacheTTL = 24 * time.Hour
	statusCacheKey   = "job_status:"
	cancelMarkerKey  = "job_cancel:"
)

// Orchestrator drives one job through the fixed S1-S6 stage sequence. One
// call to Run owns one job end to end; the Worker Pool calls Run once per
// dequeued entry.
type Orchestrator struct {
	store       store.Store
	fabric      fabric.Gateway
	ledger      *ledger.Ledger
	bus         *events.DurableBus
	stages      media.Stages
	metrics     *metrics.Metrics
	environment string
	stageTable  []stageDescriptor
}

func New(st store.Store, gw fabric.Gateway, lg *ledger.Ledger, bus *events.DurableBus, stages media.Stages, m *metrics.Metrics, environment string) *Orchestrator {
	return &Orchestrator{
		store:       st,
		fabric:      gw,
		ledger:      lg,
		bus:         bus,
		stages:      stages,
		metrics:     m,
		environment: environment,
		stageTable:  defaultStageTable,
	}
}

// Run drives jobID through every stage. A non-nil return is always one of
// apierr's kinds; callers should use apierr.As and the error's
// Retryable() to decide whether to re-enter the Worker Pool's dequeue
// loop or treat the job as terminally settled (Run has already written
// failure state for every non-retryable outcome).
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return apierr.Retryable(err, "orchestrator: load job %s", jobID)
	}

	if job.Status != store.JobStatusQueued {
		// Already processing or terminal; a requeued duplicate delivery.
		return nil
	}
	job.Status = store.JobStatusProcessing
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return apierr.Retryable(err, "orchestrator: mark job %s processing", jobID)
	}

	var analysis *media.AudioAnalysis
	var plan *media.ScenePlan
	var refs *media.References
	var prompts *media.ClipPrompts
	var clips *media.Clips

	for _, desc := range o.stageTable {
		if o.cancelled(ctx, jobID) {
			return o.failJob(ctx, job, "Job cancelled by user", "JOB_CANCELLED", false)
		}

		if desc.EstimatedCostMillidollars > 0 {
			exceeded, err := o.ledger.WouldExceed(ctx, jobID, o.environment, desc.EstimatedCostMillidollars)
			if err != nil {
				return apierr.Retryable(err, "orchestrator: budget pre-check for %s", desc.Name)
			}
			if exceeded {
				o.metrics.RecordBudgetExceeded(o.environment)
				budgetErr := apierr.BudgetExceeded("budget exceeded before %s stage", desc.Name)
				return o.failJob(ctx, job, budgetErr.Message, budgetErr.Code, false)
			}
		}

		o.emit(ctx, jobID, "stage_update", map[string]interface{}{"stage": desc.Name, "status": "started"})
		o.upsertStage(ctx, jobID, desc.Name, store.StageStatusProcessing, nil)

		stageStart := time.Now()
		var stageErr error

		switch desc.Name {
		case StageAnalysis:
			analysis, stageErr = o.runAnalysis(ctx, jobID, job.AudioURL)
		case StagePlanning:
			plan, stageErr = o.stages.Plan(ctx, jobID, job.UserPrompt, analysis)
		case StageReferences:
			refs, stageErr = o.stages.Synthesize(ctx, jobID, plan)
			if stageErr == nil {
				if _, err := o.ledger.TrackCost(ctx, jobID, StageReferences, "reference_synthesis", 50_000); err != nil {
					slog.Warn("pipeline: track reference synthesis cost", "error", err)
				}
			}
		case StagePrompting:
			prompts, stageErr = o.stages.BuildPrompts(ctx, jobID, plan, refs)
		case StageGeneration:
			clips, stageErr = o.runGeneration(ctx, jobID, prompts)
		case StageComposition:
			stageErr = o.runComposition(ctx, job, clips)
		}

		o.metrics.RecordStage(desc.Name, time.Since(stageStart).Seconds(), "")

		if stageErr != nil {
			if desc.Degradable {
				o.upsertStage(ctx, jobID, desc.Name, store.StageStatusFailed, map[string]interface{}{
					"fallback_mode":   true,
					"fallback_reason": stageErr.Error(),
				})
				o.metrics.RecordStage(desc.Name, 0, "degraded")
				refs = nil
			} else if apiErr, ok := apierr.As(stageErr); ok && apiErr.Retryable() {
				o.metrics.RecordStage(desc.Name, 0, "fatal")
				return stageErr
			} else {
				o.metrics.RecordStage(desc.Name, 0, "fatal")
				code := "PIPELINE_ERROR"
				if apiErr, ok := apierr.As(stageErr); ok {
					code = apiErr.Code
				}
				return o.failJob(ctx, job, stageErr.Error(), code, false)
			}
		} else {
			o.upsertStage(ctx, jobID, desc.Name, store.StageStatusCompleted, nil)
		}

		if desc.EnforceAfter {
			if err := o.ledger.Enforce(ctx, jobID, o.environment); err != nil {
				o.metrics.RecordBudgetExceeded(o.environment)
				code := "BUDGET_EXCEEDED"
				if apiErr, ok := apierr.As(err); ok {
					code = apiErr.Code
				}
				return o.failJob(ctx, job, err.Error(), code, false)
			}
		}

		job.CurrentStage = desc.Name

		if desc.Name == StageComposition {
			// S6 is the last stage: progress=100 is written together with
			// status=completed so the row is never observed at
			// progress=100 while still "processing" (§3: progress = 100 ⇔
			// status = completed).
			now := time.Now().UTC()
			job.Progress = desc.Progress
			job.Status = store.JobStatusCompleted
			job.CompletedAt = &now
			o.syncTotalCost(ctx, job)
			if err := o.store.UpdateJob(ctx, job); err != nil {
				return apierr.Retryable(err, "orchestrator: persist completion for %s", jobID)
			}
			o.invalidateStatusCache(ctx, jobID)
			o.emit(ctx, jobID, "stage_update", map[string]interface{}{"stage": desc.Name, "status": "completed"})
			o.emit(ctx, jobID, "completed", map[string]interface{}{"video_url": job.VideoURL, "total_cost_millidollars": job.TotalCostMillidollars})
			o.metrics.RecordJobTerminal("completed")
			return nil
		}

		job.Progress = desc.Progress
		o.syncTotalCost(ctx, job)
		if err := o.store.UpdateJob(ctx, job); err != nil {
			return apierr.Retryable(err, "orchestrator: persist progress for %s", jobID)
		}
		o.invalidateStatusCache(ctx, jobID)
		o.emit(ctx, jobID, "progress", map[string]interface{}{
			"progress": job.Progress, "stage": desc.Name, "status": job.Status,
		})
		o.emit(ctx, jobID, "stage_update", map[string]interface{}{"stage": desc.Name, "status": "completed"})
	}

	return nil
}

func (o *Orchestrator) runAnalysis(ctx context.Context, jobID, audioURL string) (*media.AudioAnalysis, error) {
	hash := contentHash(audioURL)
	cacheKey := "audio_cache:" + hash

	if cached, ok, err := o.fabric.Get(ctx, cacheKey); err == nil && ok {
		var analysis media.AudioAnalysis
		if err := json.Unmarshal(cached, &analysis); err == nil {
			return &analysis, nil
		}
	}

	if entry, err := o.store.GetAnalysisCacheEntry(ctx, hash); err == nil {
		analysis, convErr := analysisFromMap(entry.Result)
		if convErr == nil {
			o.cacheAnalysis(ctx, cacheKey, hash, analysis)
			return analysis, nil
		}
	}

	analysis, err := o.stages.Analyze(ctx, jobID, audioURL)
	if err != nil {
		return nil, apierr.Pipeline(err, "analysis stage failed")
	}
	o.cacheAnalysis(ctx, cacheKey, hash, analysis)
	return analysis, nil
}

func (o *Orchestrator) cacheAnalysis(ctx context.Context, cacheKey, hash string, analysis *media.AudioAnalysis) {
	payload, err := json.Marshal(analysis)
	if err != nil {
		slog.Warn("pipeline: marshal analysis for cache", "error", err)
		return
	}
	if err := o.fabric.Set(ctx, cacheKey, payload, analysisCacheTTL); err != nil {
		slog.Warn("pipeline: cache analysis result", "error", err)
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(payload, &asMap); err == nil {
		if err := o.store.PutAnalysisCacheEntry(ctx, &store.AnalysisCacheEntry{ContentHash: hash, Result: asMap}); err != nil {
			slog.Warn("pipeline: persist durable analysis cache entry", "error", err)
		}
	}
}

func analysisFromMap(m map[string]interface{}) (*media.AudioAnalysis, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var analysis media.AudioAnalysis
	if err := json.Unmarshal(payload, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (o *Orchestrator) runGeneration(ctx context.Context, jobID string, prompts *media.ClipPrompts) (*media.Clips, error) {
	clips, err := o.stages.GenerateClips(ctx, jobID, prompts)
	if err != nil {
		return nil, err
	}
	if len(clips.ClipURLs) < 3 {
		return nil, apierr.Pipeline(nil, "Insufficient clips generated")
	}
	if _, err := o.ledger.TrackCost(ctx, jobID, StageGeneration, "clip_generation", 100_000); err != nil {
		slog.Warn("pipeline: track generation cost", "error", err)
	}
	return clips, nil
}

func (o *Orchestrator) runComposition(ctx context.Context, job *store.Job, clips *media.Clips) error {
	out, err := o.stages.Compose(ctx, &media.CompositionRequest{
		JobID:    job.ID,
		ClipURLs: clips.ClipURLs,
		AudioURL: job.AudioURL,
	})
	if err != nil {
		return apierr.Pipeline(err, "composition stage failed")
	}
	job.VideoURL = out.VideoURL
	return nil
}

func (o *Orchestrator) cancelled(ctx context.Context, jobID string) bool {
	_, ok, err := o.fabric.Get(ctx, cancelMarkerKey+jobID)
	if err != nil {
		return false
	}
	return ok
}

func (o *Orchestrator) failJob(ctx context.Context, job *store.Job, message, code string, retryable bool) error {
	job.Status = store.JobStatusFailed
	job.ErrorMessage = message
	now := time.Now().UTC()
	job.CompletedAt = &now
	o.syncTotalCost(ctx, job)
	if err := o.store.UpdateJob(ctx, job); err != nil {
		slog.Error("pipeline: persist failed job", "job_id", job.ID, "error", err)
	}
	o.invalidateStatusCache(ctx, job.ID)
	o.emit(ctx, job.ID, "error", map[string]interface{}{"error": message, "code": code, "retryable": retryable})
	o.metrics.RecordJobTerminal("failed")
	return apierr.Pipeline(nil, "%s", message)
}

// syncTotalCost refreshes job's in-memory total from the Ledger immediately
// before a full-row write. The Orchestrator's local job struct is loaded
// once at Run's start and never otherwise kept in sync with the Ledger's own
// read-modify-write of total_cost_millidollars; without this, a progress or
// completion write would stomp the Ledger's charge back to its stale value.
func (o *Orchestrator) syncTotalCost(ctx context.Context, job *store.Job) {
	total, err := o.ledger.Total(ctx, job.ID)
	if err != nil {
		slog.Warn("pipeline: refresh total cost before job write", "job_id", job.ID, "error", err)
		return
	}
	job.TotalCostMillidollars = total
}

func (o *Orchestrator) upsertStage(ctx context.Context, jobID, stageName, status string, metadata map[string]interface{}) {
	if err := o.store.UpsertStageRecord(ctx, &store.JobStageRecord{
		JobID: jobID, StageName: stageName, Status: status, Metadata: metadata,
	}); err != nil {
		slog.Warn("pipeline: upsert stage record", "job_id", jobID, "stage", stageName, "error", err)
	}
}

func (o *Orchestrator) invalidateStatusCache(ctx context.Context, jobID string) {
	if err := o.fabric.Del(ctx, statusCacheKey+jobID); err != nil {
		slog.Warn("pipeline: invalidate status cache", "job_id", jobID, "error", err)
	}
}

// emit is best-effort: event-bus publication never fails a job.
func (o *Orchestrator) emit(ctx context.Context, jobID, eventType string, data map[string]interface{}) {
	o.bus.Emit(ctx, jobID, eventType, data)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
