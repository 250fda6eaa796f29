package vision

import (
	"encoding/json"
	"strings"
)

// BuildSystemPrompt is the fixed extraction instruction. The model must
// answer with a single JSON object matching the recipe schema, or
// {"error": "<reason>"} when the page holds no recipe.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a recipe extractor. You receive one page of a cookbook or recipe collection.",
		"Return ONLY a single JSON object that matches the provided JSON Schema.",
		"If the page contains no recipe, return exactly {\"error\": \"<short reason>\"} instead.",
		"Extract the recipe in its original language and set 'locale' to the matching BCP 47 tag (e.g. de-DE, en-US).",
		"Group ingredients the way the page does; if the page has no grouping, use a single group named 'Ingredients'.",
		"Steps must be ordered and numbered starting at 1.",
		"Express prepTime and cookTime in whole minutes.",
		"Estimate per-serving nutrition (calories, protein, carbohydrates, fat in grams) when the page does not state it.",
		"Never output null. If a field is not present and cannot be estimated, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the schema plus, for the text path, the page's
// embedded text layer. When an image is attached the text is omitted.
func BuildUserPrompt(pageText string, imageAttached bool) string {
	var b strings.Builder
	b.WriteString("JSON Schema:\n")
	b.WriteString(mustJSON(BuildRecipeJSONSchema()))
	if imageAttached {
		b.WriteString("\n\nThe page is attached as an image.")
		return b.String()
	}
	b.WriteString("\n\nPage text:\n")
	b.WriteString(pageText)
	return b.String()
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
