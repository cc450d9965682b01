package ingest

import (
	"github.com/inlethq/inlet/errors"
)

// FieldMapping is one declarative rule converting a source path into a
// target field. A mapping may optionally route the value through a
// transform, into a composite sub-field, or into a relation lookup.
// Mappings are applied in Position order; multiple mappings may target the
// same field with different sub-fields to assemble a composite value.
type FieldMapping struct {
	ID              string `json:"id"`
	PipelineID      string `json:"pipelineId"`
	SourceFieldPath string `json:"sourceFieldPath"`
	TargetFieldName string `json:"targetFieldName"`

	// TargetCompositeSubField names a sub-field of an object-valued target
	// attribute (e.g. firstName within a name composite).
	TargetCompositeSubField string `json:"targetCompositeSubField,omitempty"`

	Transform *Transform `json:"transform,omitempty"`

	// Relation descriptor: the transformed value becomes a lookup against
	// another object type instead of a direct assignment.
	RelationTargetObject string `json:"relationTargetObjectName,omitempty"`
	RelationMatchField   string `json:"relationMatchFieldName,omitempty"`
	RelationAutoCreate   bool   `json:"relationAutoCreate"`

	Position int `json:"position"`
}

func (m *FieldMapping) Validate() error {
	if m.PipelineID == "" {
		return errors.NewInvalidInputError("field mapping requires a pipelineId")
	}
	if m.SourceFieldPath == "" {
		return errors.NewInvalidInputError("field mapping requires a sourceFieldPath")
	}
	if m.TargetFieldName == "" {
		return errors.NewInvalidInputError("field mapping requires a targetFieldName")
	}
	if m.Transform != nil {
		if err := m.Transform.Validate(); err != nil {
			return errors.Wrap(errors.ErrInvalidInput, err.Error())
		}
	}
	if m.RelationTargetObject != "" && m.RelationMatchField == "" {
		return errors.NewInvalidInputError("relation mapping requires a relationMatchFieldName")
	}
	return nil
}

// IsRelation reports whether this mapping resolves through another object.
func (m *FieldMapping) IsRelation() bool {
	return m.RelationTargetObject != "" && m.RelationMatchField != ""
}
