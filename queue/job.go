// Package queue provides SQLite-backed at-least-once job dispatch for
// ingestion runs. Jobs move queued → running → completed/failed; failed
// jobs requeue until their retry budget is spent.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus.
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job is one queued unit of work. The queue is domain-agnostic:
// HandlerName routes the job and Payload carries handler-specific data.
type Job struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Source      string          `json:"source"` // for deduplication and logging
	Status      JobStatus       `json:"status"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJob creates a queued job for the given handler.
func NewJob(handlerName, source string, payload json.RawMessage) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Start marks the job as running.
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Requeue puts a failed execution back on the queue for another attempt.
func (j *Job) Requeue() {
	j.Status = JobStatusQueued
	j.RetryCount++
	j.StartedAt = nil
	j.CompletedAt = nil
	j.UpdatedAt = time.Now().UTC()
}
