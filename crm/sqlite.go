package crm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inlethq/inlet/errors"
)

// Manager hands out SQLite-backed repositories per workspace and object type.
type Manager struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewManager creates a record store manager on the given database.
func NewManager(db *sql.DB, logger *zap.SugaredLogger) *Manager {
	return &Manager{db: db, logger: logger}
}

// Repository implements Provider.
func (m *Manager) Repository(workspaceID, objectName string) (Repository, error) {
	if workspaceID == "" {
		return nil, errors.NewInvalidInputError("workspace id is required")
	}
	if objectName == "" {
		return nil, errors.NewInvalidInputError("object name is required")
	}

	return &sqliteRepository{
		db:          m.db,
		workspaceID: workspaceID,
		objectName:  objectName,
	}, nil
}

type sqliteRepository struct {
	db          *sql.DB
	workspaceID string
	objectName  string
}

// predicate is one flattened where clause: a JSON path and the value it
// must equal.
type predicate struct {
	path  string
	value any
}

// flattenWhere converts a possibly-nested Where into json_extract
// predicates. Nested maps address composite sub-fields.
func flattenWhere(where Where) ([]predicate, error) {
	var preds []predicate

	var walk func(prefix []string, m map[string]any) error
	walk = func(prefix []string, m map[string]any) error {
		// Deterministic clause order keeps queries stable
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if strings.ContainsAny(k, "\"'$[]") {
				return errors.NewInvalidInputError("invalid field name %q in predicate", k)
			}
			segments := append(append([]string{}, prefix...), k)
			switch v := m[k].(type) {
			case Where:
				if err := walk(segments, v); err != nil {
					return err
				}
			case map[string]any:
				if err := walk(segments, v); err != nil {
					return err
				}
			default:
				preds = append(preds, predicate{
					path:  "$." + strings.Join(segments, "."),
					value: v,
				})
			}
		}
		return nil
	}

	if err := walk(nil, where); err != nil {
		return nil, err
	}
	if len(preds) == 0 {
		return nil, errors.NewInvalidInputError("empty predicate")
	}

	return preds, nil
}

func (r *sqliteRepository) buildQuery(where Where) (string, []any, error) {
	preds, err := flattenWhere(where)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT data FROM crm_records WHERE workspace_id = ? AND object_name = ?")
	args := []any{r.workspaceID, r.objectName}

	for _, p := range preds {
		sb.WriteString(fmt.Sprintf(" AND json_extract(data, '%s') = ?", p.path))
		args = append(args, p.value)
	}

	return sb.String(), args, nil
}

func (r *sqliteRepository) FindOne(ctx context.Context, where Where) (Record, error) {
	query, args, err := r.buildQuery(where)
	if err != nil {
		return nil, err
	}

	var data string
	err = r.db.QueryRowContext(ctx, query+" LIMIT 1", args...).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find one %s record", r.objectName)
	}

	return decodeRecord(data)
}

func (r *sqliteRepository) Find(ctx context.Context, where Where) ([]Record, error) {
	query, args, err := r.buildQuery(where)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "find %s records", r.objectName)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		record, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *sqliteRepository) Save(ctx context.Context, record Record) (Record, error) {
	stored := Record{}
	for k, v := range record {
		stored[k] = v
	}

	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s record", r.objectName)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO crm_records (id, workspace_id, object_name, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, r.workspaceID, r.objectName, string(data), now, now,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "save %s record", r.objectName)
	}

	return stored, nil
}

func (r *sqliteRepository) Update(ctx context.Context, id string, partial Record) error {
	var data string
	err := r.db.QueryRowContext(ctx,
		"SELECT data FROM crm_records WHERE id = ? AND workspace_id = ? AND object_name = ?",
		id, r.workspaceID, r.objectName,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("%s record %s", r.objectName, id)
	}
	if err != nil {
		return errors.Wrapf(err, "load %s record %s", r.objectName, id)
	}

	existing, err := decodeRecord(data)
	if err != nil {
		return err
	}

	// Shallow merge: incoming fields replace existing ones wholesale,
	// including composite objects
	for k, v := range partial {
		if k == "id" {
			continue
		}
		existing[k] = v
	}

	merged, err := json.Marshal(existing)
	if err != nil {
		return errors.Wrapf(err, "marshal %s record %s", r.objectName, id)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx,
		"UPDATE crm_records SET data = ?, updated_at = ? WHERE id = ?",
		string(merged), now, id,
	)
	if err != nil {
		return errors.Wrapf(err, "update %s record %s", r.objectName, id)
	}

	return nil
}

func decodeRecord(data string) (Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	return record, nil
}
