package ingest

import "time"

// LogStatus is the run lifecycle state:
// pending → running → completed | partial | failed. Terminal states are
// never left.
type LogStatus string

const (
	LogStatusPending   LogStatus = "pending"
	LogStatusRunning   LogStatus = "running"
	LogStatusCompleted LogStatus = "completed" // terminal, zero failures
	LogStatusPartial   LogStatus = "partial"   // terminal, some records failed
	LogStatusFailed    LogStatus = "failed"    // terminal, run-level precondition failed
)

// TriggerType records what started a run.
type TriggerType string

const (
	TriggerPush TriggerType = "push"
	TriggerPull TriggerType = "pull"
)

// RecordError describes one failure inside a run. Run-level failures use
// RecordIndex -1; per-record failures carry the record's batch index and
// the raw source data for debugging.
type RecordError struct {
	RecordIndex int            `json:"recordIndex"`
	Message     string         `json:"message"`
	SourceData  map[string]any `json:"sourceData,omitempty"`
}

// Log is one pipeline execution record.
type Log struct {
	ID          string      `json:"id"`
	PipelineID  string      `json:"pipelineId"`
	Status      LogStatus   `json:"status"`
	TriggerType TriggerType `json:"triggerType"`

	TotalRecordsReceived int `json:"totalRecordsReceived"`
	RecordsCreated       int `json:"recordsCreated"`
	RecordsUpdated       int `json:"recordsUpdated"`
	RecordsSkipped       int `json:"recordsSkipped"`
	RecordsFailed        int `json:"recordsFailed"`

	Errors []RecordError `json:"errors,omitempty"`

	// IncomingPayload is the raw webhook body captured before processing,
	// push runs only.
	IncomingPayload []map[string]any `json:"incomingPayload,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMS  *int64     `json:"durationMs,omitempty"`
}

// IsTerminal reports whether the run can no longer change state.
func (l *Log) IsTerminal() bool {
	switch l.Status {
	case LogStatusCompleted, LogStatusPartial, LogStatusFailed:
		return true
	default:
		return false
	}
}
