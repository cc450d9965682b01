package ingest

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/logger"
	"github.com/inlethq/inlet/schedule"
)

// PullJobName routes scheduled and manually triggered pull runs to the
// pull job handler.
const PullJobName = "ingestion-pull"

// PushJobName routes webhook deliveries to the push processing handler.
const PushJobName = "ingestion-push-process"

// pullScheduleID derives a stable schedule job ID from a pipeline ID so
// re-syncing replaces the registration instead of stacking duplicates.
func pullScheduleID(pipelineID string) string {
	return fmt.Sprintf("ingestion-pull-%s", pipelineID)
}

// PullScheduler mirrors pull pipeline configuration into the schedule
// store. Every pipeline mutation funnels through SyncPipeline so the
// registered schedules always match what the database says.
type PullScheduler struct {
	pipelines *PipelineStore
	schedules *schedule.Store
	logger    *zap.SugaredLogger
}

// NewPullScheduler creates a pull scheduler.
func NewPullScheduler(pipelines *PipelineStore, schedules *schedule.Store, log *zap.SugaredLogger) *PullScheduler {
	return &PullScheduler{
		pipelines: pipelines,
		schedules: schedules,
		logger:    log.Named("scheduler"),
	}
}

// SyncPipeline reconciles the schedule registration for one pipeline.
// The old registration is always removed; a new one is added only when
// the pipeline is an enabled pull with a cron pattern.
func (s *PullScheduler) SyncPipeline(p *Pipeline) error {
	jobID := pullScheduleID(p.ID)

	if err := s.schedules.RemoveCron(jobID); err != nil {
		return errors.Wrapf(err, "failed to unregister schedule for pipeline %s", p.ID)
	}

	if !p.IsEnabled || p.Mode != ModePull || p.Schedule == "" {
		s.logger.Debugw("Pipeline has no active pull schedule",
			logger.FieldPipelineID, p.ID,
		)
		return nil
	}

	payload, err := json.Marshal(PullPayload{
		PipelineID:  p.ID,
		WorkspaceID: p.WorkspaceID,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal pull payload")
	}

	if err := s.schedules.AddCron(jobID, PullJobName, p.Schedule, payload); err != nil {
		return errors.Wrapf(err, "failed to register schedule for pipeline %s", p.ID)
	}

	s.logger.Infow("Pull schedule registered",
		logger.FieldPipelineID, p.ID,
		logger.FieldScheduleID, jobID,
		"cron", p.Schedule,
	)
	return nil
}

// SyncAll re-registers schedules for every enabled pull pipeline.
// Called at startup so schedules survive restarts.
func (s *PullScheduler) SyncAll() error {
	pipelines, err := s.pipelines.ListEnabledPull()
	if err != nil {
		return errors.Wrap(err, "failed to list enabled pull pipelines")
	}

	for _, p := range pipelines {
		if err := s.SyncPipeline(p); err != nil {
			s.logger.Errorw("Failed to sync pipeline schedule",
				logger.FieldPipelineID, p.ID,
				logger.FieldError, err,
			)
		}
	}

	s.logger.Infow("Pull schedules synced", "count", len(pipelines))
	return nil
}
