// Package schedule persists cron-based job registrations and hands due
// entries to the ticker, which enqueues them on the async queue.
package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/inlethq/inlet/errors"
)

// Entry is one recurring job registration. JobID is caller-chosen so
// re-registering the same schedule is an upsert, not a duplicate.
type Entry struct {
	JobID       string          `json:"job_id"`
	JobName     string          `json:"job_name"`
	CronPattern string          `json:"cron_pattern"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	NextRunAt   time.Time       `json:"next_run_at"`
	LastRunAt   *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Store handles persistence of scheduled jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ParseCron validates a standard 5-field cron pattern.
func ParseCron(pattern string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid cron pattern %q", pattern)
	}
	return sched, nil
}

// AddCron registers or replaces a scheduled job. The next run time is
// computed from the pattern relative to now.
func (s *Store) AddCron(jobID, jobName, pattern string, payload json.RawMessage) error {
	sched, err := ParseCron(pattern)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	nextRun := sched.Next(now)

	var payloadValue sql.NullString
	if len(payload) > 0 {
		payloadValue = sql.NullString{String: string(payload), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO ingestion_schedules (
			job_id, job_name, cron_pattern, payload,
			next_run_at, last_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			job_name = excluded.job_name,
			cron_pattern = excluded.cron_pattern,
			payload = excluded.payload,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`,
		jobID, jobName, pattern, payloadValue,
		nextRun.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to register schedule %s", jobID)
	}
	return nil
}

// RemoveCron deletes a scheduled job. Removing a job that does not
// exist is not an error.
func (s *Store) RemoveCron(jobID string) error {
	_, err := s.db.Exec(`DELETE FROM ingestion_schedules WHERE job_id = ?`, jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to remove schedule %s", jobID)
	}
	return nil
}

// Get retrieves a schedule entry by job ID.
func (s *Store) Get(jobID string) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT job_id, job_name, cron_pattern, payload,
		       next_run_at, last_run_at, created_at, updated_at
		FROM ingestion_schedules WHERE job_id = ?
	`, jobID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("schedule %s not found", jobID)
	}
	return entry, err
}

// List returns all schedule entries ordered by next run time.
func (s *Store) List() ([]*Entry, error) {
	return s.query(`
		SELECT job_id, job_name, cron_pattern, payload,
		       next_run_at, last_run_at, created_at, updated_at
		FROM ingestion_schedules ORDER BY next_run_at ASC
	`)
}

// ListDue returns entries whose next run time is at or before now.
func (s *Store) ListDue(now time.Time) ([]*Entry, error) {
	return s.query(`
		SELECT job_id, job_name, cron_pattern, payload,
		       next_run_at, last_run_at, created_at, updated_at
		FROM ingestion_schedules
		WHERE next_run_at <= ?
		ORDER BY next_run_at ASC
	`, now.UTC().Format(time.RFC3339Nano))
}

// MarkRun stamps the last run and advances the next run time from the
// entry's cron pattern.
func (s *Store) MarkRun(jobID string, now time.Time) error {
	entry, err := s.Get(jobID)
	if err != nil {
		return err
	}

	sched, err := ParseCron(entry.CronPattern)
	if err != nil {
		return err
	}
	nextRun := sched.Next(now.UTC())

	_, err = s.db.Exec(`
		UPDATE ingestion_schedules
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE job_id = ?
	`,
		now.UTC().Format(time.RFC3339Nano),
		nextRun.Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark schedule %s as run", jobID)
	}
	return nil
}

func (s *Store) query(q string, args ...any) ([]*Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query schedules")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating schedules")
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var payload, lastRunAt sql.NullString
	var nextRunAt, createdAt, updatedAt string

	err := row.Scan(
		&entry.JobID, &entry.JobName, &entry.CronPattern, &payload,
		&nextRunAt, &lastRunAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		entry.Payload = []byte(payload.String)
	}
	if entry.NextRunAt, err = parseScheduleTime(nextRunAt); err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		t, err := parseScheduleTime(lastRunAt.String)
		if err != nil {
			return nil, err
		}
		entry.LastRunAt = &t
	}
	if entry.CreatedAt, err = parseScheduleTime(createdAt); err != nil {
		return nil, err
	}
	if entry.UpdatedAt, err = parseScheduleTime(updatedAt); err != nil {
		return nil, err
	}
	return &entry, nil
}

func parseScheduleTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid schedule timestamp %q", value)
	}
	return t, nil
}
