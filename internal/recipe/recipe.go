// Package recipe holds the typed recipe record produced by the extraction
// pipeline and the defensive parser that builds it from raw model output.
package recipe

// Nutrition is per-serving nutrition info. Values are defaulted
// individually when the model omits or mistypes them.
type Nutrition struct {
	Calories      float64  `json:"calories"`
	Protein       float64  `json:"protein"`
	Carbohydrates float64  `json:"carbohydrates"`
	Fat           float64  `json:"fat"`
	Fiber         *float64 `json:"fiber,omitempty"`
}

// Ingredient is a single ingredient line within a group.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// IngredientGroup is a named cluster of ingredients ("sauce", "topping").
type IngredientGroup struct {
	Name        string       `json:"name"`
	Ingredients []Ingredient `json:"ingredients"`
}

// Step is one ordered instruction.
type Step struct {
	Number      int    `json:"number"`
	Instruction string `json:"instruction"`
}

// ExtractedRecipe is the normalized shape we want from the model.
type ExtractedRecipe struct {
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	Servings         int               `json:"servings"`
	PrepTimeMinutes  *int              `json:"prep_time_minutes,omitempty"`
	CookTimeMinutes  *int              `json:"cook_time_minutes,omitempty"`
	Locale           string            `json:"locale"`
	Tags             []string          `json:"tags"`
	Nutrition        Nutrition         `json:"nutrition"`
	IngredientGroups []IngredientGroup `json:"ingredient_groups"`
	Steps            []Step            `json:"steps"`
}
