package llm

import "github.com/scrypster/contactcard/pkg/types"

// ExtractionSchema returns the JSON Schema that constrains extraction
// output. A fresh map is built on each call.
func ExtractionSchema() map[string]any {
	str := map[string]any{"type": "string"}
	nullableStr := map[string]any{"type": []any{"string", "null"}}

	fact := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": str,
			"content":  str,
		},
		"required":             []any{"category", "content"},
		"additionalProperties": false,
	}

	confidence := make([]any, 0, len(types.ConfidenceNames))
	for _, name := range types.ConfidenceNames {
		confidence = append(confidence, name)
	}
	candidate := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contact_id": str,
			"name":       str,
			"confidence": map[string]any{"type": "string", "enum": confidence},
		},
		"required":             []any{"contact_id", "name", "confidence"},
		"additionalProperties": false,
	}

	contact := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":               str,
			"matched_person_id":  nullableStr,
			"matched_contact_id": nullableStr,
			"aliases":            map[string]any{"type": "array", "items": str},
			"facts":              map[string]any{"type": "array", "items": fact},
			"match_candidates":   map[string]any{"type": "array", "items": candidate},
		},
		"required":             []any{"name", "aliases", "facts"},
		"additionalProperties": false,
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"contacts": map[string]any{"type": "array", "items": contact},
		},
		"required":             []any{"contacts"},
		"additionalProperties": false,
	}
}
