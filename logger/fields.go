package logger

// Standard field names for consistent structured logging across Inlet.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldPipelineID  = "pipeline_id"
	FieldWorkspaceID = "workspace_id"
	FieldLogID       = "log_id"
	FieldJobID       = "job_id"
	FieldScheduleID  = "schedule_id"

	// Components
	FieldComponent = "component"
	FieldHandler   = "handler"

	// Records
	FieldObjectName  = "object_name"
	FieldRecordIndex = "record_index"
	FieldRecordCount = "record_count"
	FieldCreated     = "created"
	FieldUpdated     = "updated"
	FieldSkipped     = "skipped"
	FieldFailed      = "failed"

	// Fetching
	FieldURL        = "url"
	FieldPage       = "page"
	FieldStatusCode = "status_code"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldStartedAt  = "started_at"

	// Errors and status
	FieldError  = "error"
	FieldStatus = "status"
)
