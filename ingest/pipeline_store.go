package ingest

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
	"github.com/inlethq/inlet/logger"
)

// PipelineStore persists pipeline configurations.
type PipelineStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewPipelineStore creates a pipeline store.
func NewPipelineStore(db *sql.DB, log *zap.SugaredLogger) *PipelineStore {
	return &PipelineStore{db: db, logger: log}
}

const pipelineColumns = `id, workspace_id, name, description, mode, target_object,
	webhook_secret, source_url, source_http_method, source_auth_config,
	source_request_config, response_records_path, schedule, dedup_field_name,
	pagination_config, is_enabled, created_at, updated_at, deleted_at`

// Create validates and inserts a pipeline, assigning its id and, for push
// pipelines, a generated webhook secret.
func (s *PipelineStore) Create(p *Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Mode == ModePush && p.WebhookSecret == "" {
		p.WebhookSecret = GenerateWebhookSecret()
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	authJSON, requestJSON, paginationJSON, err := marshalPipelineConfigs(p)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO ingestion_pipelines (`+pipelineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.WorkspaceID, p.Name, nullString(p.Description), string(p.Mode), p.TargetObject,
		nullString(p.WebhookSecret), nullString(p.SourceURL), nullString(p.SourceHTTPMethod), authJSON,
		requestJSON, nullString(p.ResponseRecordsPath), nullString(p.Schedule), nullString(p.DedupFieldName),
		paginationJSON, p.IsEnabled, p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339), nil,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create pipeline")
	}

	s.logger.Infow("Created ingestion pipeline",
		logger.FieldPipelineID, p.ID,
		logger.FieldWorkspaceID, p.WorkspaceID,
		"mode", p.Mode,
	)
	return nil
}

// GetByID returns a non-deleted pipeline regardless of workspace. The
// webhook ingress resolves pipelines by id alone; workspace scoping comes
// from the pipeline row itself.
func (s *PipelineStore) GetByID(id string) (*Pipeline, error) {
	row := s.db.QueryRow(`
		SELECT `+pipelineColumns+` FROM ingestion_pipelines
		WHERE id = ? AND deleted_at IS NULL
	`, id)
	return scanPipeline(row, id)
}

// GetForWorkspace returns a non-deleted pipeline scoped to a workspace.
func (s *PipelineStore) GetForWorkspace(id, workspaceID string) (*Pipeline, error) {
	row := s.db.QueryRow(`
		SELECT `+pipelineColumns+` FROM ingestion_pipelines
		WHERE id = ? AND workspace_id = ? AND deleted_at IS NULL
	`, id, workspaceID)
	return scanPipeline(row, id)
}

// List returns all non-deleted pipelines for a workspace, oldest first.
func (s *PipelineStore) List(workspaceID string) ([]*Pipeline, error) {
	rows, err := s.db.Query(`
		SELECT `+pipelineColumns+` FROM ingestion_pipelines
		WHERE workspace_id = ? AND deleted_at IS NULL
		ORDER BY created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipelines")
	}
	defer rows.Close()

	return scanPipelines(rows)
}

// ListEnabledPull returns every enabled pull pipeline with a schedule,
// across all workspaces. The scheduler re-registers these at startup.
func (s *PipelineStore) ListEnabledPull() ([]*Pipeline, error) {
	rows, err := s.db.Query(`
		SELECT ` + pipelineColumns + ` FROM ingestion_pipelines
		WHERE mode = 'pull' AND is_enabled = 1 AND schedule IS NOT NULL
		  AND deleted_at IS NULL
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pull pipelines")
	}
	defer rows.Close()

	return scanPipelines(rows)
}

// Update validates and persists the pipeline in place.
func (s *PipelineStore) Update(p *Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}

	p.UpdatedAt = time.Now().UTC()

	authJSON, requestJSON, paginationJSON, err := marshalPipelineConfigs(p)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE ingestion_pipelines
		SET name = ?, description = ?, mode = ?, target_object = ?,
		    webhook_secret = ?, source_url = ?, source_http_method = ?,
		    source_auth_config = ?, source_request_config = ?,
		    response_records_path = ?, schedule = ?, dedup_field_name = ?,
		    pagination_config = ?, is_enabled = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ? AND deleted_at IS NULL
	`,
		p.Name, nullString(p.Description), string(p.Mode), p.TargetObject,
		nullString(p.WebhookSecret), nullString(p.SourceURL), nullString(p.SourceHTTPMethod),
		authJSON, requestJSON,
		nullString(p.ResponseRecordsPath), nullString(p.Schedule), nullString(p.DedupFieldName),
		paginationJSON, p.IsEnabled, p.UpdatedAt.Format(time.RFC3339),
		p.ID, p.WorkspaceID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update pipeline")
	}
	return requirePipelineRow(result, p.ID)
}

// SoftDelete stamps deleted_at; the row and its cascading children remain
// for audit but drop out of every active query.
func (s *PipelineStore) SoftDelete(id, workspaceID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE ingestion_pipelines
		SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ? AND deleted_at IS NULL
	`, now, now, id, workspaceID)
	if err != nil {
		return errors.Wrap(err, "failed to delete pipeline")
	}
	return requirePipelineRow(result, id)
}

func requirePipelineRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrPipelineNotFound, "pipeline %s", id)
	}
	return nil
}

func marshalPipelineConfigs(p *Pipeline) (auth, request, pagination sql.NullString, err error) {
	if p.AuthConfig != nil {
		data, marshalErr := json.Marshal(p.AuthConfig)
		if marshalErr != nil {
			err = errors.Wrap(marshalErr, "failed to marshal auth config")
			return
		}
		auth = sql.NullString{String: string(data), Valid: true}
	}
	if p.RequestConfig != nil {
		data, marshalErr := json.Marshal(p.RequestConfig)
		if marshalErr != nil {
			err = errors.Wrap(marshalErr, "failed to marshal request config")
			return
		}
		request = sql.NullString{String: string(data), Valid: true}
	}
	if p.PaginationConfig != nil {
		data, marshalErr := json.Marshal(p.PaginationConfig)
		if marshalErr != nil {
			err = errors.Wrap(marshalErr, "failed to marshal pagination config")
			return
		}
		pagination = sql.NullString{String: string(data), Valid: true}
	}
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row rowScanner, id string) (*Pipeline, error) {
	var p Pipeline
	var description, webhookSecret, sourceURL, sourceHTTPMethod sql.NullString
	var authJSON, requestJSON sql.NullString
	var responseRecordsPath, schedule, dedupFieldName, paginationJSON sql.NullString
	var mode, createdAt, updatedAt string
	var deletedAt sql.NullString

	err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.Name, &description, &mode, &p.TargetObject,
		&webhookSecret, &sourceURL, &sourceHTTPMethod, &authJSON,
		&requestJSON, &responseRecordsPath, &schedule, &dedupFieldName,
		&paginationJSON, &p.IsEnabled, &createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrPipelineNotFound, "pipeline %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan pipeline")
	}

	p.Mode = Mode(mode)
	p.Description = description.String
	p.WebhookSecret = webhookSecret.String
	p.SourceURL = sourceURL.String
	p.SourceHTTPMethod = sourceHTTPMethod.String
	p.ResponseRecordsPath = responseRecordsPath.String
	p.Schedule = schedule.String
	p.DedupFieldName = dedupFieldName.String

	if authJSON.Valid {
		p.AuthConfig = &AuthConfig{}
		if err := json.Unmarshal([]byte(authJSON.String), p.AuthConfig); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal auth config")
		}
	}
	if requestJSON.Valid {
		p.RequestConfig = &RequestConfig{}
		if err := json.Unmarshal([]byte(requestJSON.String), p.RequestConfig); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal request config")
		}
	}
	if paginationJSON.Valid {
		p.PaginationConfig = &PaginationConfig{}
		if err := json.Unmarshal([]byte(paginationJSON.String), p.PaginationConfig); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal pagination config")
		}
	}

	if p.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := parseStoredTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		p.DeletedAt = &t
	}

	return &p, nil
}

func scanPipelines(rows *sql.Rows) ([]*Pipeline, error) {
	var pipelines []*Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows, "")
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating pipelines")
	}
	return pipelines, nil
}

func parseStoredTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid stored timestamp %q", value)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
