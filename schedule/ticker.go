package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/logger"
	"github.com/inlethq/inlet/queue"
)

// TickerConfig contains configuration for the schedule ticker.
type TickerConfig struct {
	Interval time.Duration // how often to check for due schedules
}

// DefaultTickerConfig returns sensible defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: 1 * time.Second}
}

// Ticker periodically checks for due schedule entries and enqueues a
// job for each on the async queue.
type Ticker struct {
	store    *Store
	queue    *queue.Queue
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger
}

// NewTicker creates a ticker with a parent context.
func NewTicker(ctx context.Context, store *Store, q *queue.Queue, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		store:    store,
		queue:    q,
		interval: cfg.Interval,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   log.Named("ticker"),
	}
}

// Start begins the ticker loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Schedule ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Schedule ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			if err := t.checkDue(tickTime); err != nil {
				t.logger.Warnw("Schedule tick error", logger.FieldError, err)
			}
		}
	}
}

// checkDue finds due entries and enqueues one job per entry. The entry
// is advanced to its next run time before the job runs, so a slow job
// never causes a double fire.
func (t *Ticker) checkDue(now time.Time) error {
	entries, err := t.store.ListDue(now)
	if err != nil {
		return errors.Wrap(err, "failed to list due schedules")
	}

	for _, entry := range entries {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.fire(entry, now); err != nil {
			t.logger.Errorw("Failed to fire scheduled job",
				logger.FieldJobID, entry.JobID,
				logger.FieldHandler, entry.JobName,
				logger.FieldError, err,
			)
			continue
		}
	}
	return nil
}

func (t *Ticker) fire(entry *Entry, now time.Time) error {
	// Advance next_run_at first so repeated ticks see the entry as not due.
	if err := t.store.MarkRun(entry.JobID, now); err != nil {
		return err
	}

	job := queue.NewJob(entry.JobName, "schedule:"+entry.JobID, entry.Payload)
	if err := t.queue.Enqueue(job); err != nil {
		return errors.Wrapf(err, "failed to enqueue job for schedule %s", entry.JobID)
	}

	t.logger.Infow("Scheduled job enqueued",
		logger.FieldJobID, job.ID,
		logger.FieldScheduleID, entry.JobID,
		logger.FieldHandler, entry.JobName,
	)
	return nil
}
