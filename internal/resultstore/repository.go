// Package resultstore persists submitted jobs and their raw result bundles.
//
// Bundles are stored as msgpack blobs keyed by job handle, so a handle
// recorded from a previous run reproduces its analysis without touching the
// backend. Job rows track the backend lifecycle for the background sync.
package resultstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	handle       TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL,
	spec_yaml    TEXT NOT NULL DEFAULT '',
	submitted_at INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS result_bundles (
	handle     TEXT PRIMARY KEY REFERENCES jobs(handle),
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Repository provides job and result-bundle persistence.
type Repository struct {
	db *sql.DB
}

// NewRepository creates the repository and applies the schema.
func NewRepository(db *sql.DB) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply result store schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// SaveJob inserts or replaces the job row for a handle.
func (r *Repository) SaveJob(job domain.Job) error {
	var completed *int64
	if job.CompletedAt != nil {
		ts := job.CompletedAt.Unix()
		completed = &ts
	}

	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO jobs (handle, type, status, spec_yaml, submitted_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(job.Handle), string(job.Type), string(job.Status), job.SpecYAML,
		job.SubmittedAt.Unix(), completed,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.Handle, err)
	}
	return nil
}

// GetJob returns the job row for a handle, or domain.ErrJobNotFound.
func (r *Repository) GetJob(handle domain.JobHandle) (*domain.Job, error) {
	row := r.db.QueryRow(
		`SELECT handle, type, status, spec_yaml, submitted_at, completed_at FROM jobs WHERE handle = ?`,
		string(handle),
	)

	var (
		job         domain.Job
		submittedAt int64
		completedAt *int64
	)
	err := row.Scan(&job.Handle, &job.Type, &job.Status, &job.SpecYAML, &submittedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", handle, err)
	}

	job.SubmittedAt = time.Unix(submittedAt, 0).UTC()
	if completedAt != nil {
		ts := time.Unix(*completedAt, 0).UTC()
		job.CompletedAt = &ts
	}
	return &job, nil
}

// UpdateStatus transitions a job's lifecycle state. Terminal states also
// stamp the completion time.
func (r *Repository) UpdateStatus(handle domain.JobHandle, status domain.JobStatus) error {
	var res sql.Result
	var err error
	if status.Terminal() {
		res, err = r.db.Exec(
			`UPDATE jobs SET status = ?, completed_at = ? WHERE handle = ?`,
			string(status), time.Now().Unix(), string(handle),
		)
	} else {
		res, err = r.db.Exec(
			`UPDATE jobs SET status = ? WHERE handle = ?`,
			string(status), string(handle),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", handle, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, handle)
	}
	return nil
}

// ListPending returns every job still awaiting backend completion, oldest first.
func (r *Repository) ListPending() ([]domain.Job, error) {
	rows, err := r.db.Query(
		`SELECT handle, type, status, spec_yaml, submitted_at FROM jobs
		 WHERE status IN (?, ?) ORDER BY submitted_at ASC`,
		string(domain.JobStatusQueued), string(domain.JobStatusRunning),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var job domain.Job
		var submittedAt int64
		if err := rows.Scan(&job.Handle, &job.Type, &job.Status, &job.SpecYAML, &submittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending job: %w", err)
		}
		job.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListRecent returns the most recently submitted jobs, newest first.
func (r *Repository) ListRecent(limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT handle, type, status, spec_yaml, submitted_at FROM jobs
		 ORDER BY submitted_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var job domain.Job
		var submittedAt int64
		if err := rows.Scan(&job.Handle, &job.Type, &job.Status, &job.SpecYAML, &submittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SaveBundle stores the raw result batch for a handle as a msgpack blob.
func (r *Repository) SaveBundle(batch *domain.RawResultBatch) error {
	payload, err := msgpack.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode bundle %s: %w", batch.Handle, err)
	}

	_, err = r.db.Exec(
		`INSERT OR REPLACE INTO result_bundles (handle, payload, created_at) VALUES (?, ?, ?)`,
		string(batch.Handle), payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store bundle %s: %w", batch.Handle, err)
	}
	return nil
}

// GetBundle loads the raw result batch for a handle, or domain.ErrJobNotFound.
func (r *Repository) GetBundle(handle domain.JobHandle) (*domain.RawResultBatch, error) {
	var payload []byte
	err := r.db.QueryRow(
		`SELECT payload FROM result_bundles WHERE handle = ?`, string(handle),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no bundle for %s", domain.ErrJobNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle %s: %w", handle, err)
	}

	var batch domain.RawResultBatch
	if err := msgpack.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode bundle %s: %w", handle, err)
	}
	return &batch, nil
}
