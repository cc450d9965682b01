package ingest

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
)

// MappingStore persists field mappings. Mappings are hard-deleted with
// their pipeline (the table cascades); only pipelines soft-delete.
type MappingStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewMappingStore creates a mapping store.
func NewMappingStore(db *sql.DB, log *zap.SugaredLogger) *MappingStore {
	return &MappingStore{db: db, logger: log}
}

const mappingColumns = `id, pipeline_id, source_field_path, target_field_name,
	target_composite_sub_field, transform, relation_target_object,
	relation_match_field, relation_auto_create, position`

// Create validates and inserts one mapping, assigning its id.
func (s *MappingStore) Create(m *FieldMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	transformJSON, err := marshalTransform(m.Transform)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO ingestion_field_mappings (`+mappingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.PipelineID, m.SourceFieldPath, m.TargetFieldName,
		nullString(m.TargetCompositeSubField), transformJSON, nullString(m.RelationTargetObject),
		nullString(m.RelationMatchField), m.RelationAutoCreate, m.Position,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create field mapping")
	}
	return nil
}

// CreateMany inserts a batch of mappings in one transaction: either the
// whole batch lands or none of it does.
func (s *MappingStore) CreateMany(mappings []*FieldMapping) error {
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, m := range mappings {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		transformJSON, err := marshalTransform(m.Transform)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO ingestion_field_mappings (`+mappingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			m.ID, m.PipelineID, m.SourceFieldPath, m.TargetFieldName,
			nullString(m.TargetCompositeSubField), transformJSON, nullString(m.RelationTargetObject),
			nullString(m.RelationMatchField), m.RelationAutoCreate, m.Position,
		)
		if err != nil {
			return errors.Wrap(err, "failed to create field mapping")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit field mappings")
}

// ListByPipeline returns a pipeline's mappings in position order. Position
// order drives composite merge order during compilation.
func (s *MappingStore) ListByPipeline(pipelineID string) ([]*FieldMapping, error) {
	rows, err := s.db.Query(`
		SELECT `+mappingColumns+` FROM ingestion_field_mappings
		WHERE pipeline_id = ?
		ORDER BY position ASC, id ASC
	`, pipelineID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list field mappings")
	}
	defer rows.Close()

	var mappings []*FieldMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating field mappings")
	}
	return mappings, nil
}

// Get returns one mapping by id.
func (s *MappingStore) Get(id string) (*FieldMapping, error) {
	row := s.db.QueryRow(`
		SELECT `+mappingColumns+` FROM ingestion_field_mappings WHERE id = ?
	`, id)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("field mapping %s not found", id)
	}
	return m, err
}

// Update validates and persists the mapping in place.
func (s *MappingStore) Update(m *FieldMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}

	transformJSON, err := marshalTransform(m.Transform)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE ingestion_field_mappings
		SET source_field_path = ?, target_field_name = ?,
		    target_composite_sub_field = ?, transform = ?,
		    relation_target_object = ?, relation_match_field = ?,
		    relation_auto_create = ?, position = ?
		WHERE id = ?
	`,
		m.SourceFieldPath, m.TargetFieldName,
		nullString(m.TargetCompositeSubField), transformJSON,
		nullString(m.RelationTargetObject), nullString(m.RelationMatchField),
		m.RelationAutoCreate, m.Position,
		m.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update field mapping")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("field mapping %s not found", m.ID)
	}
	return nil
}

// Delete removes one mapping. Returns false if it did not exist.
func (s *MappingStore) Delete(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM ingestion_field_mappings WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete field mapping")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected > 0, nil
}

// DeleteByPipeline removes all mappings for a pipeline.
func (s *MappingStore) DeleteByPipeline(pipelineID string) error {
	_, err := s.db.Exec(`DELETE FROM ingestion_field_mappings WHERE pipeline_id = ?`, pipelineID)
	return errors.Wrap(err, "failed to delete field mappings")
}

func marshalTransform(t *Transform) (sql.NullString, error) {
	if t == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "failed to marshal transform")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanMapping(row rowScanner) (*FieldMapping, error) {
	var m FieldMapping
	var subField, transformJSON, relationTarget, relationMatch sql.NullString

	err := row.Scan(
		&m.ID, &m.PipelineID, &m.SourceFieldPath, &m.TargetFieldName,
		&subField, &transformJSON, &relationTarget,
		&relationMatch, &m.RelationAutoCreate, &m.Position,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan field mapping")
	}

	m.TargetCompositeSubField = subField.String
	m.RelationTargetObject = relationTarget.String
	m.RelationMatchField = relationMatch.String

	if transformJSON.Valid {
		m.Transform = &Transform{}
		if err := json.Unmarshal([]byte(transformJSON.String), m.Transform); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal transform")
		}
	}

	return &m, nil
}
