package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/changes"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const jobColumns = `id, entity_type, entity_id, entity_name, user_id, status, started_at, completed_at,
       result, error_message, error_code, logs, stats, version, analysis_id, previous_job_id,
       history, change_detection, retry_config, attempt, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a new job.
func (r *PGRepo) Create(ctx context.Context, job Job) error {
	return r.CreateMany(ctx, []Job{job})
}

// CreateMany inserts all jobs in one transaction.
func (r *PGRepo) CreateMany(ctx context.Context, jobs []Job) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, job := range jobs {
		if err := insertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}
	return tx.Commit()
}

func insertJob(ctx context.Context, tx *sql.Tx, job Job) error {
	const query = `
INSERT INTO analysis_jobs (
	id, entity_type, entity_id, entity_name, user_id, status, started_at, completed_at,
	result, error_message, error_code, logs, stats, version, analysis_id, previous_job_id,
	history, change_detection, retry_config, attempt, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	payloads, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query,
		job.ID,
		string(job.EntityType),
		job.EntityID,
		job.EntityName,
		nullString(job.UserID),
		string(job.Status),
		job.StartedAt,
		nullTime(job.CompletedAt),
		payloads.result,
		nullString(job.Error),
		nullString(job.ErrorCode),
		payloads.logs,
		payloads.stats,
		job.Version,
		job.AnalysisID,
		nullString(job.PreviousJobID),
		payloads.history,
		payloads.changeDetection,
		payloads.retryConfig,
		job.Attempt,
		job.UpdatedAt,
	)
	return err
}

// GetByID returns a job by ID.
func (r *PGRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = $1 LIMIT 1`
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

// Update locks the row, applies fn and writes back the mutable columns.
func (r *PGRepo) Update(ctx context.Context, jobID string, fn func(*Job) error) (Job, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, err
	}
	defer tx.Rollback()

	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = $1 FOR UPDATE`
	job, err := scanJob(tx.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	if err := fn(&job); err != nil {
		return Job{}, err
	}

	payloads, err := marshalJobJSON(job)
	if err != nil {
		return Job{}, err
	}
	const update = `
UPDATE analysis_jobs
SET status = $2,
    started_at = $3,
    completed_at = $4,
    result = $5,
    error_message = $6,
    error_code = $7,
    logs = $8,
    stats = $9,
    change_detection = $10,
    retry_config = $11,
    attempt = $12,
    updated_at = $13
WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update,
		job.ID,
		string(job.Status),
		job.StartedAt,
		nullTime(job.CompletedAt),
		payloads.result,
		nullString(job.Error),
		nullString(job.ErrorCode),
		payloads.logs,
		payloads.stats,
		payloads.changeDetection,
		payloads.retryConfig,
		job.Attempt,
		job.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// LatestCompleted returns the highest-version completed job per key in one query.
func (r *PGRepo) LatestCompleted(ctx context.Context, keys []EntityKey) (map[EntityKey]Job, error) {
	out := make(map[EntityKey]Job, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, key := range keys {
		clauses = append(clauses, fmt.Sprintf("(entity_type = $%d AND entity_id = $%d)", i*2+1, i*2+2))
		args = append(args, string(key.EntityType), key.EntityID)
	}
	query := `SELECT DISTINCT ON (entity_type, entity_id) ` + jobColumns + `
FROM analysis_jobs
WHERE status = 'complete' AND (` + strings.Join(clauses, " OR ") + `)
ORDER BY entity_type, entity_id, version DESC, completed_at DESC`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out[job.Key()] = job
	}
	return out, rows.Err()
}

// ListByEntity returns jobs for an entity in the given statuses, newest first.
func (r *PGRepo) ListByEntity(ctx context.Context, key EntityKey, statuses []Status, limit int) ([]Job, error) {
	args := []any{string(key.EntityType), key.EntityID}
	query := `SELECT ` + jobColumns + `
FROM analysis_jobs
WHERE entity_type = $1 AND entity_id = $2`
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, status := range statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += `
ORDER BY COALESCE(completed_at, started_at) DESC, version DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var entityType, status string
	var userID, errorMessage, errorCode, previousJobID sql.NullString
	var result, logs, stats, history, changeDetection, retryConfig sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&j.ID,
		&entityType,
		&j.EntityID,
		&j.EntityName,
		&userID,
		&status,
		&j.StartedAt,
		&completedAt,
		&result,
		&errorMessage,
		&errorCode,
		&logs,
		&stats,
		&j.Version,
		&j.AnalysisID,
		&previousJobID,
		&history,
		&changeDetection,
		&retryConfig,
		&j.Attempt,
		&j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	j.EntityType = EntityType(entityType)
	j.Status = Status(status)
	j.UserID = userID.String
	j.Error = errorMessage.String
	j.ErrorCode = errorCode.String
	j.PreviousJobID = previousJobID.String
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}

	if err := unmarshalNullable(result, &j.Result); err != nil {
		return Job{}, fmt.Errorf("decode result: %w", err)
	}
	if err := unmarshalNullable(logs, &j.Logs); err != nil {
		return Job{}, fmt.Errorf("decode logs: %w", err)
	}
	if stats.Valid {
		j.Stats = &agent.Stats{}
		if err := json.Unmarshal([]byte(stats.String), j.Stats); err != nil {
			return Job{}, fmt.Errorf("decode stats: %w", err)
		}
	}
	if err := unmarshalNullable(history, &j.History); err != nil {
		return Job{}, fmt.Errorf("decode history: %w", err)
	}
	if j.History == nil {
		j.History = []Snapshot{}
	}
	if changeDetection.Valid {
		j.ChangeDetection = &changes.Result{}
		if err := json.Unmarshal([]byte(changeDetection.String), j.ChangeDetection); err != nil {
			return Job{}, fmt.Errorf("decode change detection: %w", err)
		}
	}
	if retryConfig.Valid {
		j.RetryConfig = &RetryConfig{}
		if err := json.Unmarshal([]byte(retryConfig.String), j.RetryConfig); err != nil {
			return Job{}, fmt.Errorf("decode retry config: %w", err)
		}
	}
	return j, nil
}

type jobJSON struct {
	result          any
	logs            any
	stats           any
	history         any
	changeDetection any
	retryConfig     any
}

func marshalJobJSON(job Job) (jobJSON, error) {
	var out jobJSON
	var err error
	if out.result, err = marshalNullable(job.Result, job.Result == nil); err != nil {
		return out, fmt.Errorf("encode result: %w", err)
	}
	if out.logs, err = marshalNullable(job.Logs, job.Logs == nil); err != nil {
		return out, fmt.Errorf("encode logs: %w", err)
	}
	if out.stats, err = marshalNullable(job.Stats, job.Stats == nil); err != nil {
		return out, fmt.Errorf("encode stats: %w", err)
	}
	history := job.History
	if history == nil {
		history = []Snapshot{}
	}
	if out.history, err = marshalNullable(history, false); err != nil {
		return out, fmt.Errorf("encode history: %w", err)
	}
	if out.changeDetection, err = marshalNullable(job.ChangeDetection, job.ChangeDetection == nil); err != nil {
		return out, fmt.Errorf("encode change detection: %w", err)
	}
	if out.retryConfig, err = marshalNullable(job.RetryConfig, job.RetryConfig == nil); err != nil {
		return out, fmt.Errorf("encode retry config: %w", err)
	}
	return out, nil
}

// marshalNullable returns nil for SQL NULL or the JSON bytes for a JSONB column.
func marshalNullable(value any, isNil bool) (any, error) {
	if isNil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func unmarshalNullable(raw sql.NullString, dest any) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dest)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

var _ Repo = (*PGRepo)(nil)
