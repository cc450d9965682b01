package queue

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/inlethq/inlet/errors"
)

// Queue is a persistent FIFO job queue backed by SQLite. All mutations
// go through the store under a mutex so concurrent workers never
// dequeue the same job twice.
type Queue struct {
	store *Store
	mu    sync.Mutex
}

// NewQueue creates a queue on top of the given database.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

// Enqueue adds a new job to the queue.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return err
	}
	return nil
}

// Dequeue returns the oldest queued job marked as running, or nil when
// the queue is empty.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queuedStatus := JobStatusQueued
	jobs, err := q.store.ListJobs(&queuedStatus, 1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queued jobs")
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	job := jobs[0]
	job.Start()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to mark job as running")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return nil, err
	}
	return job, nil
}

// GetJob retrieves a job by ID.
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.GetJob(id)
}

// UpdateJob persists changes to a job.
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.UpdateJob(job)
}

// CompleteJob marks a job as completed.
func (q *Queue) CompleteJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to complete job %s", id)
	}

	job.Complete()
	return q.store.UpdateJob(job)
}

// FailJob marks a job as failed with the given error.
func (q *Queue) FailJob(id string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s as failed", id)
	}

	job.Fail(jobErr)
	return q.store.UpdateJob(job)
}

// RequeueJob puts a job back in the queue for another attempt and
// increments its retry count.
func (q *Queue) RequeueJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to requeue job %s", id)
	}

	job.Requeue()
	return q.store.UpdateJob(job)
}

// ListJobs returns jobs, optionally filtered by status.
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.ListJobs(status, limit)
}

// Cleanup removes terminal jobs older than the given duration.
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(olderThan)
}

// Stats summarizes the queue by status.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// GetStats counts jobs per status.
func (q *Queue) GetStats() (*Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &Stats{}
	for status, dest := range map[JobStatus]*int{
		JobStatusQueued:    &stats.Queued,
		JobStatusRunning:   &stats.Running,
		JobStatusCompleted: &stats.Completed,
		JobStatusFailed:    &stats.Failed,
	} {
		count, err := q.store.countByStatus(status)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count %s jobs", status)
		}
		*dest = count
	}
	return stats, nil
}
