// Package crm provides the generic typed-record store the ingestion engine
// writes into. Records are schemaless JSON documents grouped by workspace
// and object name; predicates may address nested composite fields
// (e.g. phones.primaryPhoneNumber).
//
// All operations run with a system-level identity; no per-user permission
// checks apply.
package crm

import (
	"context"
)

// Record is one CRM record. After Save it always carries an "id" field.
type Record map[string]any

// ID returns the record's id field, or "" if unset.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Where is a field predicate. Values may be nested maps to address
// composite sub-fields: Where{"phones": Where{"primaryPhoneNumber": x}}.
type Where map[string]any

// Repository is the per-object-type record access capability required by
// the ingestion engine.
type Repository interface {
	// FindOne returns the first record matching where, or nil if none match.
	FindOne(ctx context.Context, where Where) (Record, error)

	// Find returns all records matching where.
	Find(ctx context.Context, where Where) ([]Record, error)

	// Save inserts a new record, assigning an id if absent,
	// and returns the stored record.
	Save(ctx context.Context, record Record) (Record, error)

	// Update patches the record with the given id; fields absent from
	// partial are left untouched.
	Update(ctx context.Context, id string, partial Record) error
}

// Provider hands out repositories scoped to one workspace and object type.
type Provider interface {
	Repository(workspaceID, objectName string) (Repository, error)
}
