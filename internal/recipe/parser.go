package recipe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Defaults substituted for missing or mistyped optional fields. The model
// response is free text coerced into JSON: syntactically valid, but never
// trusted to be complete or correctly typed.
const (
	DefaultServings      = 4
	DefaultCalories      = 300
	DefaultProtein       = 15
	DefaultCarbohydrates = 30
	DefaultFat           = 10
	DefaultLocale        = "en-US"
	DefaultGroupName     = "Ingredients"
	DefaultIngredient    = "Unknown ingredient"
)

// ParseError is a content-level rejection: either the model's own refusal
// (Refusal=true, message surfaced verbatim) or a structural rejection by
// the parser. Content errors are terminal for a page and never retried.
type ParseError struct {
	Message string
	Refusal bool
}

func (e *ParseError) Error() string { return e.Message }

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

// Parse validates and normalizes a raw model response into an
// ExtractedRecipe. Pure function, no I/O. Every field is defensively
// type-checked; well-formed-but-incomplete input is defaulted, not
// rejected. It fails only when the response is not an object, carries the
// model's error field, has no usable title, or ends up with neither
// ingredients nor steps.
func Parse(raw []byte) (*ExtractedRecipe, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, parseErrorf("Invalid response format")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, parseErrorf("Invalid response format")
	}

	// The model's own refusal channel; surface verbatim.
	if msg, ok := obj["error"].(string); ok {
		return nil, &ParseError{Message: msg, Refusal: true}
	}

	title, _ := obj["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, parseErrorf("recipe title is missing")
	}

	rec := &ExtractedRecipe{
		Title:            title,
		Description:      stringOr(obj["description"], ""),
		Servings:         positiveIntOr(obj["servings"], DefaultServings),
		Locale:           stringOr(obj["locale"], DefaultLocale),
		Tags:             stringSlice(obj["tags"]),
		Nutrition:        parseNutrition(obj["nutrition"]),
		IngredientGroups: parseIngredientGroups(obj["ingredientGroups"]),
		Steps:            parseSteps(obj["steps"]),
	}
	if n, ok := numeric(obj["prepTime"]); ok && n > 0 {
		m := int(n)
		rec.PrepTimeMinutes = &m
	}
	if n, ok := numeric(obj["cookTime"]); ok && n > 0 {
		m := int(n)
		rec.CookTimeMinutes = &m
	}

	// A title alone is not a usable recipe.
	if len(rec.IngredientGroups) == 0 && len(rec.Steps) == 0 {
		return nil, parseErrorf("recipe has no ingredients or steps")
	}
	return rec, nil
}

func parseNutrition(v any) Nutrition {
	n := Nutrition{
		Calories:      DefaultCalories,
		Protein:       DefaultProtein,
		Carbohydrates: DefaultCarbohydrates,
		Fat:           DefaultFat,
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return n
	}
	// Each field defaults independently.
	if f, ok := numeric(obj["calories"]); ok {
		n.Calories = f
	}
	if f, ok := numeric(obj["protein"]); ok {
		n.Protein = f
	}
	if f, ok := numeric(obj["carbohydrates"]); ok {
		n.Carbohydrates = f
	}
	if f, ok := numeric(obj["fat"]); ok {
		n.Fat = f
	}
	if f, ok := numeric(obj["fiber"]); ok {
		n.Fiber = &f
	}
	return n
}

func parseIngredientGroups(v any) []IngredientGroup {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var groups []IngredientGroup
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		group := IngredientGroup{Name: stringOr(obj["name"], DefaultGroupName)}
		items, _ := obj["ingredients"].([]any)
		for _, item := range items {
			ing, ok := item.(map[string]any)
			if !ok {
				continue
			}
			group.Ingredients = append(group.Ingredients, Ingredient{
				Name:     stringOr(ing["name"], DefaultIngredient),
				Quantity: numericOr(ing["quantity"], 1),
				Unit:     stringOr(ing["unit"], ""),
			})
		}
		// Groups that end up empty after filtering are dropped entirely.
		if len(group.Ingredients) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

func parseSteps(v any) []Step {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var steps []Step
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		instruction := strings.TrimSpace(stringOr(obj["instruction"], ""))
		if instruction == "" {
			continue
		}
		number := i + 1
		if n, ok := numeric(obj["number"]); ok {
			number = int(n)
		}
		steps = append(steps, Step{Number: number, Instruction: instruction})
	}
	return steps
}

// stringSlice keeps the string members of a JSON array, dropping only
// non-string entries; a non-array value yields nil.
func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// numeric accepts any JSON number. encoding/json decodes numbers in
// interface values as float64.
func numeric(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func numericOr(v any, def float64) float64 {
	if f, ok := numeric(v); ok {
		return f
	}
	return def
}

func positiveIntOr(v any, def int) int {
	if f, ok := numeric(v); ok && f > 0 {
		return int(f)
	}
	return def
}
