package ingest

// RelationRef is a transient value produced by BuildRecord for relation
// mappings. It lives only inside an in-flight record between compilation
// and resolution; the resolver replaces it with a foreign-key id (or drops
// the field) before anything reaches the repository.
type RelationRef struct {
	TargetObject string
	MatchField   string
	MatchValue   any
	AutoCreate   bool
}

// BuildRecord assembles a target record from raw source data using the
// pipeline's field mappings, applied in position order.
//
// A mapping whose source path does not resolve, or whose value is nil or
// empty (before or after its transform), is skipped entirely: the output
// contains only fields that had a defined mapped value. Composite
// sub-fields merge into the existing object at the target field rather
// than overwriting it, so two mappings can fill name.firstName and
// name.lastName from one source record.
func BuildRecord(source map[string]any, mappings []*FieldMapping) map[string]any {
	record := make(map[string]any)

	for _, mapping := range mappings {
		raw, ok := ExtractByPath(source, mapping.SourceFieldPath)
		if !ok || raw == nil || raw == "" {
			continue
		}

		value := ApplyTransform(raw, mapping.Transform)
		if value == nil || value == "" {
			continue
		}

		switch {
		case mapping.TargetCompositeSubField != "":
			composite, _ := record[mapping.TargetFieldName].(map[string]any)
			if composite == nil {
				composite = make(map[string]any)
			}
			composite[mapping.TargetCompositeSubField] = value
			record[mapping.TargetFieldName] = composite

		case mapping.IsRelation():
			record[mapping.TargetFieldName] = RelationRef{
				TargetObject: mapping.RelationTargetObject,
				MatchField:   mapping.RelationMatchField,
				MatchValue:   value,
				AutoCreate:   mapping.RelationAutoCreate,
			}

		default:
			record[mapping.TargetFieldName] = value
		}
	}

	return record
}
