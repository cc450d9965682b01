package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inlethq/inlet/errors"
	inlettest "github.com/inlethq/inlet/internal/testing"
	"github.com/inlethq/inlet/logger"
)

func TestJobLifecycle(t *testing.T) {
	job := NewJob("test-handler", "test", json.RawMessage(`{"key":"value"}`))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Nil(t, job.StartedAt)

	job.Start()
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	job.Complete()
	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
}

func TestJobFailAndRequeue(t *testing.T) {
	job := NewJob("test-handler", "test", nil)
	job.Start()
	job.Fail(errors.New("boom"))

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "boom", job.Error)

	job.Requeue()
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
}

func TestStoreRoundTrip(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	store := NewStore(db)

	job := NewJob("pull", "schedule:abc", json.RawMessage(`{"pipelineId":"p1"}`))
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "pull", got.HandlerName)
	assert.Equal(t, "schedule:abc", got.Source)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.JSONEq(t, `{"pipelineId":"p1"}`, string(got.Payload))

	got.Start()
	require.NoError(t, store.UpdateJob(got))

	updated, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, updated.Status)
	assert.NotNil(t, updated.StartedAt)
}

func TestStoreGetJobNotFound(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob("nonexistent")
	assert.Error(t, err)
}

func TestDequeueIsFIFO(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	q := NewQueue(db)

	first := NewJob("pull", "test", nil)
	require.NoError(t, q.Enqueue(first))
	time.Sleep(2 * time.Millisecond)
	second := NewJob("pull", "test", nil)
	require.NoError(t, q.Enqueue(second))

	got, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, JobStatusRunning, got.Status)

	got, err = q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	got, err = q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueueCompleteAndFail(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	q := NewQueue(db)

	job := NewJob("pull", "test", nil)
	require.NoError(t, q.Enqueue(job))

	dequeued, err := q.Dequeue()
	require.NoError(t, err)
	require.NoError(t, q.CompleteJob(dequeued.ID))

	got, err := q.GetJob(dequeued.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)

	failing := NewJob("pull", "test", nil)
	require.NoError(t, q.Enqueue(failing))
	dequeued, err = q.Dequeue()
	require.NoError(t, err)
	require.NoError(t, q.FailJob(dequeued.ID, errors.New("upstream down")))

	got, err = q.GetJob(dequeued.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "upstream down", got.Error)
}

func TestQueueStats(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	q := NewQueue(db)

	require.NoError(t, q.Enqueue(NewJob("pull", "test", nil)))
	require.NoError(t, q.Enqueue(NewJob("pull", "test", nil)))

	dequeued, err := q.Dequeue()
	require.NoError(t, err)
	require.NoError(t, q.CompleteJob(dequeued.ID))

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 0, stats.Running)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
}

func TestCleanupOldJobs(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	q := NewQueue(db)

	job := NewJob("pull", "test", nil)
	require.NoError(t, q.Enqueue(job))
	require.NoError(t, q.FailJob(job.ID, errors.New("old failure")))

	// Backdate the job so the cleanup window catches it.
	old := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339Nano)
	_, err := db.Exec(`UPDATE ingestion_jobs SET updated_at = ? WHERE id = ?`, old, job.ID)
	require.NoError(t, err)

	removed, err := q.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = q.GetJob(job.ID)
	assert.Error(t, err)
}

func TestHandlerRegistryDuplicatePanics(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(&fakeHandler{name: "pull"})

	assert.Panics(t, func() {
		registry.Register(&fakeHandler{name: "pull"})
	})
	assert.True(t, registry.Has("pull"))
	assert.Nil(t, registry.Get("push"))
}

type fakeHandler struct {
	name     string
	executed atomic.Int32
	err      error
}

func (h *fakeHandler) Execute(ctx context.Context, job *Job) error {
	h.executed.Add(1)
	return h.err
}

func (h *fakeHandler) Name() string { return h.name }

func TestWorkerPoolProcessesJob(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	q := NewQueue(db)
	registry := NewHandlerRegistry()
	handler := &fakeHandler{name: "pull"}
	registry.Register(handler)

	pool := NewWorkerPool(context.Background(), q, registry, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		RetryLimit:   3,
	}, logger.NewNop())

	job := NewJob("pull", "test", nil)
	require.NoError(t, q.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := q.GetJob(job.ID)
		return err == nil && got.Status == JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), handler.executed.Load())
}

func TestWorkerPoolRetriesThenFails(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	q := NewQueue(db)
	registry := NewHandlerRegistry()
	handler := &fakeHandler{name: "pull", err: errors.New("always fails")}
	registry.Register(handler)

	pool := NewWorkerPool(context.Background(), q, registry, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		RetryLimit:   3,
	}, logger.NewNop())

	job := NewJob("pull", "test", nil)
	require.NoError(t, q.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := q.GetJob(job.ID)
		return err == nil && got.Status == JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := q.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "always fails", got.Error)
	assert.Equal(t, int32(3), handler.executed.Load())
}

func TestWorkerPoolRecoversOrphanedJobs(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	q := NewQueue(db)

	// Simulate a crash: job persisted as running with no live worker.
	orphan := NewJob("pull", "test", nil)
	orphan.Start()
	store := NewStore(db)
	require.NoError(t, store.CreateJob(orphan))

	registry := NewHandlerRegistry()
	handler := &fakeHandler{name: "pull"}
	registry.Register(handler)

	pool := NewWorkerPool(context.Background(), q, registry, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	}, logger.NewNop())

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := q.GetJob(orphan.ID)
		return err == nil && got.Status == JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPoolFailsUnknownHandler(t *testing.T) {
	db := inlettest.CreateTestDB(t)
	q := NewQueue(db)
	registry := NewHandlerRegistry()

	pool := NewWorkerPool(context.Background(), q, registry, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	}, logger.NewNop())

	job := NewJob("missing", "test", nil)
	require.NoError(t, q.Enqueue(job))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := q.GetJob(job.ID)
		return err == nil && got.Status == JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}
