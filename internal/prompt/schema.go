package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema is the structural contract for a model response. Semantic
// rules (malicious reason, checkpoint status set, score ceiling) are applied
// after the structural pass.
var responseSchema = map[string]any{
	"$schema":  "https://json-schema.org/draft/2020-12/schema",
	"type":     "object",
	"required": []string{"isMalicious", "score", "summary"},
	"properties": map[string]any{
		"isMalicious":     map[string]any{"type": "boolean"},
		"maliciousReason": map[string]any{"type": []string{"string", "null"}},
		"score":           map[string]any{"type": "number"},
		"summary":         map[string]any{"type": "string"},
		"checkpoints": map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"checkpoint": map[string]any{"type": []string{"string", "null"}},
					"status":     map[string]any{"type": []string{"string", "null"}},
					"evidence":   map[string]any{"type": []string{"string", "null"}},
					"feedback":   map[string]any{"type": []string{"string", "null"}},
					"score":      map[string]any{"type": []string{"number", "null"}},
				},
			},
		},
		"strengths":   stringList,
		"weaknesses":  stringList,
		"suggestions": stringList,
	},
}

var stringList = map[string]any{
	"type":  []string{"array", "null"},
	"items": map[string]any{"type": "string"},
}

var compiledSchema = mustCompile(responseSchema)

func compile(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func mustCompile(schemaMap map[string]any) *jsonschema.Schema {
	s, err := compile(schemaMap)
	if err != nil {
		panic(err)
	}
	return s
}
