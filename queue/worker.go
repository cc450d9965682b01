package queue

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/logger"
	"go.uber.org/zap"
)

const (
	// DefaultRetryLimit is how many times a failed job is requeued before
	// it is marked failed for good.
	DefaultRetryLimit = 3

	// maxOrphanedJobsToRecover bounds startup recovery after a crash.
	maxOrphanedJobsToRecover = 1000
)

// WorkerPoolConfig contains configuration for the worker pool.
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`
	PollInterval time.Duration `json:"poll_interval"`
	RetryLimit   int           `json:"retry_limit"`
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      2,
		PollInterval: 5 * time.Second,
		RetryLimit:   DefaultRetryLimit,
	}
}

// WorkerPool polls the queue and dispatches jobs to registered handlers.
// Failed jobs are requeued until their retry count reaches the limit.
type WorkerPool struct {
	queue     *Queue
	registry  *HandlerRegistry
	config    WorkerPoolConfig
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	mu        sync.Mutex
}

// NewWorkerPool creates a worker pool over the given queue and registry.
// Handlers must be registered before calling Start.
func NewWorkerPool(ctx context.Context, queue *Queue, registry *HandlerRegistry, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerPoolConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		queue:     queue,
		registry:  registry,
		config:    cfg,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    log.Named("worker"),
	}
}

// Start recovers orphaned jobs and launches the workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		// Restarted after Stop; derive a fresh context from the parent.
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", logger.FieldError, err)
	}

	for i := 0; i < wp.config.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Infow("Worker pool started",
		"workers", wp.config.Workers,
		"poll_interval", wp.config.PollInterval,
	)
}

// Stop cancels the workers and waits for in-flight jobs to finish, up
// to a 30 second timeout.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped")
	case <-time.After(30 * time.Second):
		wp.logger.Warnw("Worker pool stop timed out, jobs may still be running")
	}
}

// recoverOrphanedJobs requeues jobs left in running state by an
// ungraceful shutdown.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	runningStatus := JobStatusRunning
	orphaned, err := wp.queue.ListJobs(&runningStatus, maxOrphanedJobsToRecover)
	if err != nil {
		return err
	}
	if len(orphaned) == 0 {
		return nil
	}

	wp.logger.Infow("Recovering orphaned jobs from previous shutdown", "count", len(orphaned))
	for _, job := range orphaned {
		job.Status = JobStatusQueued
		job.Error = ""
		job.StartedAt = nil
		job.UpdatedAt = time.Now().UTC()
		if err := wp.queue.UpdateJob(job); err != nil {
			wp.logger.Warnw("Failed to recover orphaned job",
				logger.FieldJobID, job.ID, logger.FieldError, err)
		}
	}
	return nil
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				select {
				case <-wp.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown.
					return
				}
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id, logger.FieldError, err)
			}
		}
	}
}

// processNextJob dequeues and executes one job. A handler error either
// requeues the job for another attempt or fails it once retries are
// exhausted.
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	handler := wp.registry.Get(job.HandlerName)
	if handler == nil {
		wp.logger.Errorw("No handler registered for job",
			logger.FieldJobID, job.ID, logger.FieldHandler, job.HandlerName)
		return wp.queue.FailJob(job.ID, errors.Newf("no handler registered for %q", job.HandlerName))
	}

	if err := handler.Execute(wp.ctx, job); err != nil {
		select {
		case <-wp.ctx.Done():
			// Cancelled mid-flight; put the job back untouched.
			job.Status = JobStatusQueued
			if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
				wp.logger.Errorw("Failed to requeue cancelled job",
					logger.FieldJobID, job.ID, logger.FieldError, updateErr)
			}
			return nil
		default:
		}

		if job.RetryCount < wp.config.RetryLimit-1 {
			wp.logger.Warnw("Job failed, requeuing for retry",
				logger.FieldJobID, job.ID,
				logger.FieldHandler, job.HandlerName,
				"retry_count", job.RetryCount+1,
				logger.FieldError, err,
			)
			return wp.queue.RequeueJob(job.ID)
		}

		wp.logger.Errorw("Job failed permanently",
			logger.FieldJobID, job.ID,
			logger.FieldHandler, job.HandlerName,
			"retry_count", job.RetryCount,
			logger.FieldError, err,
		)
		return wp.queue.FailJob(job.ID, err)
	}

	return wp.queue.CompleteJob(job.ID)
}
