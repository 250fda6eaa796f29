package export

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/habitsapp/recipe-extractor/internal/recipe"
)

// Service produces XLSX bytes from extracted recipes.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ExportRecipesXLSX returns an XLSX workbook (as bytes) with one row per
// recipe, ingredients and steps flattened into readable cells.
func (s *Service) ExportRecipesXLSX(recipes []*recipe.ExtractedRecipe) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Recipes"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// Drop excelize's default sheet so the workbook opens on Recipes.
	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Title",
		"Description",
		"Servings",
		"Prep (min)",
		"Cook (min)",
		"Locale",
		"Tags",
		"Calories",
		"Protein (g)",
		"Carbs (g)",
		"Fat (g)",
		"Ingredients",
		"Steps",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range recipes {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.Title)
		write(2, truncate(r.Description, 140))
		write(3, r.Servings)
		if r.PrepTimeMinutes != nil {
			write(4, *r.PrepTimeMinutes)
		}
		if r.CookTimeMinutes != nil {
			write(5, *r.CookTimeMinutes)
		}
		write(6, r.Locale)
		write(7, strings.Join(r.Tags, ", "))
		write(8, r.Nutrition.Calories)
		write(9, r.Nutrition.Protein)
		write(10, r.Nutrition.Carbohydrates)
		write(11, r.Nutrition.Fat)
		write(12, formatIngredients(r.IngredientGroups))
		write(13, formatSteps(r.Steps))

		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 32) // title
	_ = f.SetColWidth(sheet, "B", "B", 48) // description
	_ = f.SetColWidth(sheet, "C", "E", 10)
	_ = f.SetColWidth(sheet, "F", "G", 16)
	_ = f.SetColWidth(sheet, "H", "K", 11)
	_ = f.SetColWidth(sheet, "L", "M", 64)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(recipes),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// formatIngredients flattens groups into "Group: name (qty unit); ..."
// lines. The default group name is omitted when it is the only group.
func formatIngredients(groups []recipe.IngredientGroup) string {
	var sb strings.Builder
	for gi, g := range groups {
		if gi > 0 {
			sb.WriteString("\n")
		}
		if len(groups) > 1 || g.Name != recipe.DefaultGroupName {
			sb.WriteString(g.Name)
			sb.WriteString(": ")
		}
		for i, ing := range g.Ingredients {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(ing.Name)
			if ing.Quantity > 0 {
				sb.WriteString(fmt.Sprintf(" (%v", ing.Quantity))
				if ing.Unit != "" {
					sb.WriteString(" " + ing.Unit)
				}
				sb.WriteString(")")
			}
		}
	}
	return sb.String()
}

func formatSteps(steps []recipe.Step) string {
	var sb strings.Builder
	for i, st := range steps {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%d. %s", st.Number, st.Instruction))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
