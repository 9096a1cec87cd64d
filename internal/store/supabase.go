package store

import (
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/postgrest-go"
	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseStore implements Store on top of the supabase-go PostgREST
// client, following the teacher's SupabaseClient method shapes (Get*,
// Create*, Update*, List*, Upsert* built from From/Select/Eq/Order/Limit/
// ExecuteTo chains).
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore creates a Store backed by Supabase's PostgREST API.
func NewSupabaseStore(url, serviceKey string) (*SupabaseStore, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("store: supabase url and service key must be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

func (s *SupabaseStore) Close() error { return nil }

func (s *SupabaseStore) CreateJob(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	var result []Job
	_, err := s.client.From("jobs").
		Insert(job, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

func (s *SupabaseStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var jobs []Job
	_, err := s.client.From("jobs").
		Select("*", "", false).
		Eq("id", jobID).
		ExecuteTo(&jobs)
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, &ErrNotFound{Table: "jobs", Key: jobID}
	}
	return &jobs[0], nil
}

func (s *SupabaseStore) UpdateJob(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	var result []Job
	_, err := s.client.From("jobs").
		Update(job, "", "").
		Eq("id", job.ID).
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	return nil
}

func (s *SupabaseStore) ListJobsByUser(ctx context.Context, userID, status string, limit, offset int) ([]Job, error) {
	query := s.client.From("jobs").
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false})
	if status != "" {
		query = query.Eq("status", status)
	}

	var jobs []Job
	_, err := query.Range(offset, offset+limit-1, "").ExecuteTo(&jobs)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	return jobs, nil
}

func (s *SupabaseStore) CountJobsByUser(ctx context.Context, userID, status string) (int, error) {
	query := s.client.From("jobs").
		Select("id", "exact", true).
		Eq("user_id", userID)
	if status != "" {
		query = query.Eq("status", status)
	}
	var jobs []Job
	count, err := query.ExecuteTo(&jobs)
	if err != nil {
		return 0, fmt.Errorf("store: count jobs: %w", err)
	}
	return int(count), nil
}

func (s *SupabaseStore) UpsertStageRecord(ctx context.Context, rec *JobStageRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	var result []JobStageRecord
	_, err := s.client.From("job_stage_records").
		Upsert(rec, "job_id,stage_name", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("store: upsert stage record: %w", err)
	}
	return nil
}

func (s *SupabaseStore) GetStageRecord(ctx context.Context, jobID, stageName string) (*JobStageRecord, error) {
	var recs []JobStageRecord
	_, err := s.client.From("job_stage_records").
		Select("*", "", false).
		Eq("job_id", jobID).
		Eq("stage_name", stageName).
		ExecuteTo(&recs)
	if err != nil {
		return nil, fmt.Errorf("store: get stage record: %w", err)
	}
	if len(recs) == 0 {
		return nil, &ErrNotFound{Table: "job_stage_records", Key: jobID + "/" + stageName}
	}
	return &recs[0], nil
}

func (s *SupabaseStore) ListStageRecords(ctx context.Context, jobID string) ([]JobStageRecord, error) {
	var recs []JobStageRecord
	_, err := s.client.From("job_stage_records").
		Select("*", "", false).
		Eq("job_id", jobID).
		ExecuteTo(&recs)
	if err != nil {
		return nil, fmt.Errorf("store: list stage records: %w", err)
	}
	return recs, nil
}

func (s *SupabaseStore) InsertCostEntry(ctx context.Context, entry *CostEntry) error {
	entry.Timestamp = time.Now().UTC()
	var result []CostEntry
	_, err := s.client.From("cost_entries").
		Insert(entry, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("store: insert cost entry: %w", err)
	}
	return nil
}

func (s *SupabaseStore) ListCostEntries(ctx context.Context, jobID string) ([]CostEntry, error) {
	var entries []CostEntry
	_, err := s.client.From("cost_entries").
		Select("*", "", false).
		Eq("job_id", jobID).
		Order("timestamp", nil).
		ExecuteTo(&entries)
	if err != nil {
		return nil, fmt.Errorf("store: list cost entries: %w", err)
	}
	return entries, nil
}

func (s *SupabaseStore) GetAnalysisCacheEntry(ctx context.Context, contentHash string) (*AnalysisCacheEntry, error) {
	var entries []AnalysisCacheEntry
	_, err := s.client.From("analysis_cache_entries").
		Select("*", "", false).
		Eq("content_hash", contentHash).
		ExecuteTo(&entries)
	if err != nil {
		return nil, fmt.Errorf("store: get analysis cache entry: %w", err)
	}
	if len(entries) == 0 {
		return nil, &ErrNotFound{Table: "analysis_cache_entries", Key: contentHash}
	}
	return &entries[0], nil
}

func (s *SupabaseStore) PutAnalysisCacheEntry(ctx context.Context, entry *AnalysisCacheEntry) error {
	entry.CreatedAt = time.Now().UTC()
	var result []AnalysisCacheEntry
	_, err := s.client.From("analysis_cache_entries").
		Upsert(entry, "content_hash", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("store: put analysis cache entry: %w", err)
	}
	return nil
}
