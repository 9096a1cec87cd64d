// Package store is the Store Gateway: a typed wrapper over the relational
// store (jobs, stages, costs, analysis cache). Every durable row the control
// plane reads or writes passes through this package.
package store

import "time"

// Job status values. Terminal states are sticky: once a job reaches
// Completed or Failed, no further transition is permitted.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job is the durable record of one media-generation request.
//
// Invariants (enforced by callers, not by this package): Progress == 100 iff
// Status == completed; Status == failed implies ErrorMessage != "";
// TotalCostMillidollars <= budget limit for the job's environment.
type Job struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	AudioURL      string `json:"audio_url"`
	UserPrompt    string `json:"user_prompt"`
	Progress      int    `json:"progress"`
	CurrentStage  string `json:"current_stage"`
	DurationSecs  float64 `json:"duration_seconds"`
	Filename      string `json:"filename"`

	// Costs are tracked in integer millidollars internally; see
	// internal/ledger for the rationale.
	EstimatedCostMillidollars int64 `json:"estimated_cost_millidollars"`
	TotalCostMillidollars     int64 `json:"total_cost_millidollars"`

	VideoURL     string `json:"video_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stage status values for JobStageRecord.
const (
	StageStatusPending    = "pending"
	StageStatusProcessing = "processing"
	StageStatusCompleted  = "completed"
	StageStatusFailed     = "failed"
)

// JobStageRecord is the per-(job, stage) row the orchestrator upserts as it
// advances a job. There is exactly one row per (JobID, StageName).
type JobStageRecord struct {
	JobID     string                 `json:"job_id"`
	StageName string                 `json:"stage_name"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// CostEntry is an append-only charge against a job. The sum of a job's
// entries equals that job's TotalCostMillidollars, eventually — writers
// serialize through the Cost Ledger's per-job lock.
type CostEntry struct {
	JobID             string    `json:"job_id"`
	StageName         string    `json:"stage_name"`
	APIName           string    `json:"api_name"`
	CostMillidollars  int64     `json:"cost_millidollars"`
	Timestamp         time.Time `json:"timestamp"`
}

// AnalysisCacheEntry holds the durable twin of the analysis-stage cache
// entry, keyed by the same content hash as the cache key so a crash that
// loses the cache can still short-circuit from the store.
type AnalysisCacheEntry struct {
	ContentHash string                 `json:"content_hash"`
	Result      map[string]interface{} `json:"result"`
	CreatedAt   time.Time              `json:"created_at"`
}
