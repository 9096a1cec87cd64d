package store

import "context"

// Store is the interface every component uses to reach durable rows.
// Production code is backed by Supabase (supabase.go) or raw Postgres
// (postgres.go); tests use the in-memory fake (memory.go).
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// UpdateJob persists the full row. Callers are expected to have already
	// checked terminal-state stickiness before calling.
	UpdateJob(ctx context.Context, job *Job) error
	// ListJobsByUser returns userID's jobs ordered by created_at descending.
	// An empty status lists every status; limit and offset paginate.
	ListJobsByUser(ctx context.Context, userID, status string, limit, offset int) ([]Job, error)
	// CountJobsByUser returns the total number of rows ListJobsByUser would
	// match before limit/offset are applied, for list-jobs pagination.
	CountJobsByUser(ctx context.Context, userID, status string) (int, error)

	UpsertStageRecord(ctx context.Context, rec *JobStageRecord) error
	GetStageRecord(ctx context.Context, jobID, stageName string) (*JobStageRecord, error)
	ListStageRecords(ctx context.Context, jobID string) ([]JobStageRecord, error)

	InsertCostEntry(ctx context.Context, entry *CostEntry) error
	ListCostEntries(ctx context.Context, jobID string) ([]CostEntry, error)

	GetAnalysisCacheEntry(ctx context.Context, contentHash string) (*AnalysisCacheEntry, error)
	PutAnalysisCacheEntry(ctx context.Context, entry *AnalysisCacheEntry) error

	Close() error
}

// ErrNotFound is returned by Get-style lookups when no row matches.
type ErrNotFound struct {
	Table string
	Key   string
}

func (e *ErrNotFound) Error() string {
	return "store: " + e.Table + " not found: " + e.Key
}
