package ingest

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/internal/util"
	"github.com/inlethq/inlet/logger"
)

// LogStore persists ingestion runs and drives their lifecycle:
// pending → running → completed | partial | failed. Terminal states are
// written once and never transitioned out of by this store.
type LogStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewLogStore creates a log store.
func NewLogStore(db *sql.DB, log *zap.SugaredLogger) *LogStore {
	return &LogStore{db: db, logger: log}
}

const logColumns = `id, pipeline_id, status, trigger_type,
	total_records_received, records_created, records_updated,
	records_skipped, records_failed, errors, incoming_payload,
	started_at, completed_at, duration_ms`

// CreatePending inserts a new run in the pending state, stamping
// startedAt. For push runs the raw incoming payload is snapshotted for
// audit before any processing happens; pass nil for pull runs.
func (s *LogStore) CreatePending(pipelineID string, trigger TriggerType, incomingPayload []map[string]any) (*Log, error) {
	log := &Log{
		ID:              uuid.NewString(),
		PipelineID:      pipelineID,
		Status:          LogStatusPending,
		TriggerType:     trigger,
		IncomingPayload: incomingPayload,
		StartedAt:       time.Now().UTC(),
	}

	var payloadJSON sql.NullString
	if incomingPayload != nil {
		data, err := json.Marshal(incomingPayload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal incoming payload")
		}
		payloadJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO ingestion_logs (id, pipeline_id, status, trigger_type, incoming_payload, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.ID, log.PipelineID, string(log.Status), string(log.TriggerType), payloadJSON, log.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ingestion log")
	}

	return log, nil
}

// MarkRunning transitions the run to running and re-stamps startedAt, so
// duration measures processing time rather than queue wait.
func (s *LogStore) MarkRunning(logID string) error {
	_, err := s.db.Exec(`
		UPDATE ingestion_logs SET status = ?, started_at = ? WHERE id = ?
	`, string(LogStatusRunning), time.Now().UTC().Format(time.RFC3339Nano), logID)
	return errors.Wrap(err, "failed to mark log running")
}

// MarkCompleted finalizes the run with its stats. Any failed record makes
// the terminal state partial; zero failures means completed.
func (s *LogStore) MarkCompleted(logID string, totalReceived int, stats *Stats) (*Log, error) {
	log, err := s.Get(logID)
	if err != nil {
		return nil, err
	}

	status := LogStatusCompleted
	if stats.RecordsFailed > 0 {
		status = LogStatusPartial
	}

	completedAt := time.Now().UTC()
	durationMS := completedAt.Sub(log.StartedAt).Milliseconds()

	var errorsJSON sql.NullString
	if len(stats.Errors) > 0 {
		data, err := json.Marshal(stats.Errors)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal record errors")
		}
		errorsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.Exec(`
		UPDATE ingestion_logs
		SET status = ?, total_records_received = ?, records_created = ?,
		    records_updated = ?, records_skipped = ?, records_failed = ?,
		    errors = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`,
		string(status), totalReceived, stats.RecordsCreated,
		stats.RecordsUpdated, stats.RecordsSkipped, stats.RecordsFailed,
		errorsJSON, completedAt.Format(time.RFC3339Nano), durationMS,
		logID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mark log completed")
	}

	log.Status = status
	log.TotalRecordsReceived = totalReceived
	log.RecordsCreated = stats.RecordsCreated
	log.RecordsUpdated = stats.RecordsUpdated
	log.RecordsSkipped = stats.RecordsSkipped
	log.RecordsFailed = stats.RecordsFailed
	log.Errors = stats.Errors
	log.CompletedAt = &completedAt
	log.DurationMS = util.Ptr(durationMS)

	s.logger.Infow("Ingestion run finished",
		logger.FieldLogID, logID,
		logger.FieldPipelineID, log.PipelineID,
		logger.FieldStatus, status,
		logger.FieldCreated, stats.RecordsCreated,
		logger.FieldUpdated, stats.RecordsUpdated,
		logger.FieldFailed, stats.RecordsFailed,
		logger.FieldDurationMS, durationMS,
	)
	return log, nil
}

// MarkFailed finalizes the run as failed with a single run-level error at
// index -1.
func (s *LogStore) MarkFailed(logID string, message string) (*Log, error) {
	log, err := s.Get(logID)
	if err != nil {
		return nil, err
	}

	completedAt := time.Now().UTC()
	durationMS := completedAt.Sub(log.StartedAt).Milliseconds()
	runError := []RecordError{{RecordIndex: -1, Message: message}}

	errorsData, err := json.Marshal(runError)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal run error")
	}

	_, err = s.db.Exec(`
		UPDATE ingestion_logs
		SET status = ?, errors = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`, string(LogStatusFailed), string(errorsData), completedAt.Format(time.RFC3339Nano), durationMS, logID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mark log failed")
	}

	log.Status = LogStatusFailed
	log.Errors = runError
	log.CompletedAt = &completedAt
	log.DurationMS = util.Ptr(durationMS)

	s.logger.Warnw("Ingestion run failed",
		logger.FieldLogID, logID,
		logger.FieldPipelineID, log.PipelineID,
		logger.FieldError, message,
	)
	return log, nil
}

// Get returns one run by id.
func (s *LogStore) Get(logID string) (*Log, error) {
	row := s.db.QueryRow(`
		SELECT `+logColumns+` FROM ingestion_logs WHERE id = ?
	`, logID)
	log, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("ingestion log %s not found", logID)
	}
	return log, err
}

// ListByPipeline returns a pipeline's runs, newest first.
func (s *LogStore) ListByPipeline(pipelineID string, limit int) ([]*Log, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+logColumns+` FROM ingestion_logs
		WHERE pipeline_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, pipelineID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ingestion logs")
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating ingestion logs")
	}
	return logs, nil
}

func scanLog(row rowScanner) (*Log, error) {
	var log Log
	var status, trigger string
	var errorsJSON, payloadJSON, startedAt, completedAt sql.NullString
	var durationMS sql.NullInt64

	err := row.Scan(
		&log.ID, &log.PipelineID, &status, &trigger,
		&log.TotalRecordsReceived, &log.RecordsCreated, &log.RecordsUpdated,
		&log.RecordsSkipped, &log.RecordsFailed, &errorsJSON, &payloadJSON,
		&startedAt, &completedAt, &durationMS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan ingestion log")
	}

	log.Status = LogStatus(status)
	log.TriggerType = TriggerType(trigger)

	if errorsJSON.Valid {
		if err := json.Unmarshal([]byte(errorsJSON.String), &log.Errors); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal record errors")
		}
	}
	if payloadJSON.Valid {
		if err := json.Unmarshal([]byte(payloadJSON.String), &log.IncomingPayload); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal incoming payload")
		}
	}
	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, startedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid started_at %q", startedAt.String)
		}
		log.StartedAt = t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid completed_at %q", completedAt.String)
		}
		log.CompletedAt = &t
	}
	if durationMS.Valid {
		log.DurationMS = util.Ptr(durationMS.Int64)
	}

	return &log, nil
}
