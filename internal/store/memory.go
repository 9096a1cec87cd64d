package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a deterministic in-process Store used by tests.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]Job
	stages   map[string]JobStageRecord // key: jobID+"/"+stageName
	costs    map[string][]CostEntry    // key: jobID
	analysis map[string]AnalysisCacheEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]Job),
		stages:   make(map[string]JobStageRecord),
		costs:    make(map[string][]CostEntry),
		analysis: make(map[string]AnalysisCacheEntry),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, &ErrNotFound{Table: "jobs", Key: jobID}
	}
	return &job, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return &ErrNotFound{Table: "jobs", Key: job.ID}
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) ListJobsByUser(ctx context.Context, userID, status string, limit, offset int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Job
	for _, j := range s.jobs {
		if j.UserID != userID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if offset >= len(matched) {
		return []Job{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) CountJobsByUser(ctx context.Context, userID, status string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, j := range s.jobs {
		if j.UserID != userID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) UpsertStageRecord(ctx context.Context, rec *JobStageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	s.stages[rec.JobID+"/"+rec.StageName] = *rec
	return nil
}

func (s *MemoryStore) GetStageRecord(ctx context.Context, jobID, stageName string) (*JobStageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stages[jobID+"/"+stageName]
	if !ok {
		return nil, &ErrNotFound{Table: "job_stage_records", Key: jobID + "/" + stageName}
	}
	return &rec, nil
}

func (s *MemoryStore) ListStageRecords(ctx context.Context, jobID string) ([]JobStageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobStageRecord
	for _, r := range s.stages {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertCostEntry(ctx context.Context, entry *CostEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Timestamp = time.Now().UTC()
	s.costs[entry.JobID] = append(s.costs[entry.JobID], *entry)
	return nil
}

func (s *MemoryStore) ListCostEntries(ctx context.Context, jobID string) ([]CostEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CostEntry(nil), s.costs[jobID]...), nil
}

func (s *MemoryStore) GetAnalysisCacheEntry(ctx context.Context, contentHash string) (*AnalysisCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.analysis[contentHash]
	if !ok {
		return nil, &ErrNotFound{Table: "analysis_cache_entries", Key: contentHash}
	}
	return &e, nil
}

func (s *MemoryStore) PutAnalysisCacheEntry(ctx context.Context, entry *AnalysisCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.CreatedAt = time.Now().UTC()
	s.analysis[entry.ContentHash] = *entry
	return nil
}
