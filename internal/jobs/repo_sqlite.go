package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteRepo stores each job as a JSON document with indexed lookup columns.
// It suits single-node deployments and the operator CLI.
type SQLiteRepo struct {
	db *sql.DB
}

// NewSQLiteRepo opens (or creates) a SQLite database at dbPath and ensures
// the jobs table exists.
func NewSQLiteRepo(dbPath string) (*SQLiteRepo, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer at a time keeps read-modify-write updates serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	createTable := `CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		entity_type  TEXT NOT NULL,
		entity_id    TEXT NOT NULL,
		status       TEXT NOT NULL,
		version      INTEGER NOT NULL,
		sort_at      INTEGER NOT NULL,
		doc          TEXT NOT NULL
	)`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating jobs table: %w", err)
	}
	createIndex := `CREATE INDEX IF NOT EXISTS jobs_entity_idx ON jobs (entity_type, entity_id, status)`
	if _, err := db.Exec(createIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating jobs index: %w", err)
	}
	return &SQLiteRepo{db: db}, nil
}

// Close releases the database handle.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// Create stores a new job.
func (r *SQLiteRepo) Create(ctx context.Context, job Job) error {
	return r.CreateMany(ctx, []Job{job})
}

// CreateMany stores all jobs in one transaction.
func (r *SQLiteRepo) CreateMany(ctx context.Context, jobs []Job) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, job := range jobs {
		doc, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encoding job %s: %w", job.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO jobs (id, entity_type, entity_id, status, version, sort_at, doc) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID, string(job.EntityType), job.EntityID, string(job.Status), job.Version, sortKey(job), string(doc))
		if err != nil {
			return fmt.Errorf("inserting job %s: %w", job.ID, err)
		}
	}
	return tx.Commit()
}

// GetByID returns a job by ID.
func (r *SQLiteRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM jobs WHERE id = ?`, jobID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	return decodeDoc(doc)
}

// Update applies fn inside a transaction and rewrites the document.
func (r *SQLiteRepo) Update(ctx context.Context, jobID string, fn func(*Job) error) (Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM jobs WHERE id = ?`, jobID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	job, err := decodeDoc(doc)
	if err != nil {
		return Job{}, err
	}
	if err := fn(&job); err != nil {
		return Job{}, err
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("encoding job %s: %w", jobID, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, sort_at = ?, doc = ? WHERE id = ?`,
		string(job.Status), sortKey(job), string(encoded), jobID)
	if err != nil {
		return Job{}, fmt.Errorf("updating job %s: %w", jobID, err)
	}
	if err := tx.Commit(); err != nil {
		return Job{}, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

// LatestCompleted returns the highest-version completed job per key in one
// query.
func (r *SQLiteRepo) LatestCompleted(ctx context.Context, keys []EntityKey) (map[EntityKey]Job, error) {
	out := make(map[EntityKey]Job, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2+1)
	args = append(args, string(StatusComplete))
	for _, key := range keys {
		clauses = append(clauses, "(entity_type = ? AND entity_id = ?)")
		args = append(args, string(key.EntityType), key.EntityID)
	}
	query := `SELECT doc FROM (
		SELECT doc, ROW_NUMBER() OVER (
			PARTITION BY entity_type, entity_id ORDER BY version DESC, sort_at DESC
		) AS rn
		FROM jobs
		WHERE status = ? AND (` + strings.Join(clauses, " OR ") + `)
	) WHERE rn = 1`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading latest jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		job, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out[job.Key()] = job
	}
	return out, rows.Err()
}

// ListByEntity returns matching jobs for an entity, most recent first.
func (r *SQLiteRepo) ListByEntity(ctx context.Context, key EntityKey, statuses []Status, limit int) ([]Job, error) {
	query := `SELECT doc FROM jobs WHERE entity_type = ? AND entity_id = ?`
	args := []any{string(key.EntityType), key.EntityID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY sort_at DESC, version DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for %s/%s: %w", key.EntityType, key.EntityID, err)
	}
	defer rows.Close()
	jobs := []Job{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		job, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func decodeDoc(doc string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return Job{}, fmt.Errorf("decoding job: %w", err)
	}
	if job.History == nil {
		job.History = []Snapshot{}
	}
	return job, nil
}

// sortKey is the completion time in unix nanoseconds, or the start time for
// jobs that have not finished.
func sortKey(job Job) int64 {
	t := job.StartedAt
	if job.CompletedAt != nil {
		t = *job.CompletedAt
	}
	return t.UnixNano()
}

var _ Repo = (*SQLiteRepo)(nil)
