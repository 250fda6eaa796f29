package vision

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildRecipeJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. It is sent to the model as a structured-output constraint.
// Local validation deliberately uses the looser objectSchema below: the
// response parser handles incomplete-but-well-formed output by defaulting,
// so a strict local gate would turn recoverable responses into retries.
func BuildRecipeJSONSchema() map[string]any {
	ingredient := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string", "minLength": 1},
			"quantity": map[string]any{"type": "number"},
			"unit":     map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string", "minLength": 1},
			"description": map[string]any{"type": "string"},
			"servings":    map[string]any{"type": "integer", "minimum": 1},
			"prepTime":    map[string]any{"type": "integer", "minimum": 0},
			"cookTime":    map[string]any{"type": "integer", "minimum": 0},
			"locale":      map[string]any{"type": "string"},
			"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"nutrition": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"calories":      map[string]any{"type": "number"},
					"protein":       map[string]any{"type": "number"},
					"carbohydrates": map[string]any{"type": "number"},
					"fat":           map[string]any{"type": "number"},
					"fiber":         map[string]any{"type": "number"},
				},
			},
			"ingredientGroups": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        map[string]any{"type": "string"},
						"ingredients": map[string]any{"type": "array", "items": ingredient},
					},
					"required": []string{"ingredients"},
				},
			},
			"steps": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"number":      map[string]any{"type": "integer"},
						"instruction": map[string]any{"type": "string"},
					},
					"required": []string{"instruction"},
				},
			},
			"error": map[string]any{"type": "string"},
		},
		"required": []string{"title"},
	}
}

// objectSchema is the local pre-screen: the completion must be a JSON
// object, nothing more. Field-level checks belong to the parser.
var objectSchema = map[string]any{"type": "object"}

// validateObject compiles and applies the local schema to the completion.
func validateObject(data []byte) error {
	b, err := json.Marshal(objectSchema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
