package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresStore implements Store directly over database/sql and lib/pq,
// for deployments that run their own Postgres rather than Supabase.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, status, audio_url, user_prompt, progress,
			current_stage, duration_seconds, filename, estimated_cost_millidollars,
			total_cost_millidollars, video_url, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		job.ID, job.UserID, job.Status, job.AudioURL, job.UserPrompt, job.Progress,
		job.CurrentStage, job.DurationSecs, job.Filename, job.EstimatedCostMillidollars,
		job.TotalCostMillidollars, job.VideoURL, job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, audio_url, user_prompt, progress, current_stage,
			duration_seconds, filename, estimated_cost_millidollars, total_cost_millidollars,
			video_url, error_message, created_at, updated_at, completed_at
		FROM jobs WHERE id = $1`, jobID)

	var job Job
	var videoURL, errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.UserID, &job.Status, &job.AudioURL, &job.UserPrompt,
		&job.Progress, &job.CurrentStage, &job.DurationSecs, &job.Filename,
		&job.EstimatedCostMillidollars, &job.TotalCostMillidollars, &videoURL, &errMsg,
		&job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Table: "jobs", Key: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	job.VideoURL = videoURL.String
	job.ErrorMessage = errMsg.String
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status=$2, progress=$3, current_stage=$4,
			total_cost_millidollars=$5, video_url=$6, error_message=$7,
			updated_at=$8, completed_at=$9
		WHERE id=$1`,
		job.ID, job.Status, job.Progress, job.CurrentStage, job.TotalCostMillidollars,
		job.VideoURL, job.ErrorMessage, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListJobsByUser(ctx context.Context, userID, status string, limit, offset int) ([]Job, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, status, audio_url, user_prompt, progress, current_stage,
				duration_seconds, filename, estimated_cost_millidollars, total_cost_millidollars,
				video_url, error_message, created_at, updated_at, completed_at
			FROM jobs WHERE user_id=$1 AND status=$2
			ORDER BY created_at DESC LIMIT $3 OFFSET $4`, userID, status, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, status, audio_url, user_prompt, progress, current_stage,
				duration_seconds, filename, estimated_cost_millidollars, total_cost_millidollars,
				video_url, error_message, created_at, updated_at, completed_at
			FROM jobs WHERE user_id=$1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var videoURL, errMsg sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&job.ID, &job.UserID, &job.Status, &job.AudioURL, &job.UserPrompt,
			&job.Progress, &job.CurrentStage, &job.DurationSecs, &job.Filename,
			&job.EstimatedCostMillidollars, &job.TotalCostMillidollars, &videoURL, &errMsg,
			&job.CreatedAt, &job.UpdatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		job.VideoURL = videoURL.String
		job.ErrorMessage = errMsg.String
		if completedAt.Valid {
			job.CompletedAt = &completedAt.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CountJobsByUser(ctx context.Context, userID, status string) (int, error) {
	var count int
	var err error
	if status != "" {
		err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE user_id=$1 AND status=$2`, userID, status).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE user_id=$1`, userID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("store: count jobs: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpsertStageRecord(ctx context.Context, rec *JobStageRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal stage metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_stage_records (job_id, stage_name, status, metadata, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (job_id, stage_name) DO UPDATE SET status=$3, metadata=$4, updated_at=$5`,
		rec.JobID, rec.StageName, rec.Status, metaJSON, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert stage record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStageRecord(ctx context.Context, jobID, stageName string) (*JobStageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, stage_name, status, metadata, updated_at
		FROM job_stage_records WHERE job_id=$1 AND stage_name=$2`, jobID, stageName)

	var rec JobStageRecord
	var metaJSON []byte
	if err := row.Scan(&rec.JobID, &rec.StageName, &rec.Status, &metaJSON, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Table: "job_stage_records", Key: jobID + "/" + stageName}
		}
		return nil, fmt.Errorf("store: get stage record: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal stage metadata: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresStore) ListStageRecords(ctx context.Context, jobID string) ([]JobStageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, stage_name, status, metadata, updated_at
		FROM job_stage_records WHERE job_id=$1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list stage records: %w", err)
	}
	defer rows.Close()

	var recs []JobStageRecord
	for rows.Next() {
		var rec JobStageRecord
		var metaJSON []byte
		if err := rows.Scan(&rec.JobID, &rec.StageName, &rec.Status, &metaJSON, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan stage record: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal stage metadata: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) InsertCostEntry(ctx context.Context, entry *CostEntry) error {
	entry.Timestamp = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_entries (job_id, stage_name, api_name, cost_millidollars, timestamp)
		VALUES ($1,$2,$3,$4,$5)`,
		entry.JobID, entry.StageName, entry.APIName, entry.CostMillidollars, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert cost entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCostEntries(ctx context.Context, jobID string) ([]CostEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, stage_name, api_name, cost_millidollars, timestamp
		FROM cost_entries WHERE job_id=$1 ORDER BY timestamp ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list cost entries: %w", err)
	}
	defer rows.Close()

	var entries []CostEntry
	for rows.Next() {
		var e CostEntry
		if err := rows.Scan(&e.JobID, &e.StageName, &e.APIName, &e.CostMillidollars, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan cost entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetAnalysisCacheEntry(ctx context.Context, contentHash string) (*AnalysisCacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, result, created_at
		FROM analysis_cache_entries WHERE content_hash=$1`, contentHash)

	var e AnalysisCacheEntry
	var resultJSON []byte
	if err := row.Scan(&e.ContentHash, &resultJSON, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Table: "analysis_cache_entries", Key: contentHash}
		}
		return nil, fmt.Errorf("store: get analysis cache entry: %w", err)
	}
	if err := json.Unmarshal(resultJSON, &e.Result); err != nil {
		return nil, fmt.Errorf("store: unmarshal analysis result: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) PutAnalysisCacheEntry(ctx context.Context, entry *AnalysisCacheEntry) error {
	entry.CreatedAt = time.Now().UTC()
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("store: marshal analysis result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_cache_entries (content_hash, result, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (content_hash) DO UPDATE SET result=$2, created_at=$3`,
		entry.ContentHash, resultJSON, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: put analysis cache entry: %w", err)
	}
	return nil
}
