package queue

import (
	"database/sql"
	"time"

	"github.com/inlethq/inlet/errors"
)

// Store handles persistence of queued jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, handler_name, payload, source, status, error,
	retry_count, created_at, started_at, completed_at, updated_at`

// CreateJob inserts a new job.
func (s *Store) CreateJob(job *Job) error {
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	_, err := s.db.Exec(`
		INSERT INTO ingestion_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.HandlerName, payload, job.Source, string(job.Status),
		sql.NullString{String: job.Error, Valid: job.Error != ""},
		job.RetryCount, job.CreatedAt.Format(time.RFC3339Nano),
		formatNullableTime(job.StartedAt), formatNullableTime(job.CompletedAt),
		job.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf("job not found: %s", id)
	}
	return job, err
}

// UpdateJob persists a job's mutable state.
func (s *Store) UpdateJob(job *Job) error {
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	_, err := s.db.Exec(`
		UPDATE ingestion_jobs
		SET payload = ?, status = ?, error = ?, retry_count = ?,
		    started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		payload, string(job.Status),
		sql.NullString{String: job.Error, Valid: job.Error != ""},
		job.RetryCount,
		formatNullableTime(job.StartedAt), formatNullableTime(job.CompletedAt),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}
	return nil
}

// ListJobs returns jobs, optionally filtered by status. Queued jobs come
// back oldest first so dequeue order is FIFO; anything else newest first.
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		order := "DESC"
		if *status == JobStatusQueued {
			order = "ASC"
		}
		rows, err = s.db.Query(`
			SELECT `+jobColumns+` FROM ingestion_jobs
			WHERE status = ? ORDER BY created_at `+order+` LIMIT ?
		`, string(*status), limit)
	} else {
		rows, err = s.db.Query(`
			SELECT `+jobColumns+` FROM ingestion_jobs
			ORDER BY created_at DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

func (s *Store) countByStatus(status JobStatus) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ingestion_jobs WHERE status = ?`, string(status)).Scan(&count)
	return count, err
}

// CleanupOldJobs removes terminal jobs older than the given duration and
// returns how many were deleted.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)

	result, err := s.db.Exec(`
		DELETE FROM ingestion_jobs
		WHERE status IN ('completed', 'failed') AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var payload, jobError, startedAt, completedAt sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &job.HandlerName, &payload, &job.Source, &status, &jobError,
		&job.RetryCount, &createdAt, &startedAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	job.Error = jobError.String
	if payload.Valid {
		job.Payload = []byte(payload.String)
	}

	if job.CreatedAt, err = parseJobTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseJobTime(updatedAt); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t, err := parseJobTime(startedAt.String)
		if err != nil {
			return nil, err
		}
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := parseJobTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		job.CompletedAt = &t
	}

	return &job, nil
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseJobTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid job timestamp %q", value)
	}
	return t, nil
}
