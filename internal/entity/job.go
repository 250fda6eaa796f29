package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/habitsapp/recipe-extractor/constants"
)

// ExtractionJob is the parent record for one uploaded PDF. It is the unit
// the scheduler tracks; per-page progress lives on PageJob children.
type ExtractionJob struct {
	ID               uuid.UUID           `json:"id"`
	UserID           uuid.UUID           `json:"user_id"`
	SchedulerRef     string              `json:"scheduler_ref"` // opaque external-scheduler job reference
	TotalPages       *int                `json:"total_pages,omitempty"`
	PagesProcessed   int                 `json:"pages_processed"`
	RecipesExtracted int                 `json:"recipes_extracted"`
	Status           constants.JobStatus `json:"status"`
	ErrorMessage     *string             `json:"error_message,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
}

// TotalPagesOrZero returns the page count, or 0 when the document was
// never inspected.
func (j *ExtractionJob) TotalPagesOrZero() int {
	if j.TotalPages == nil {
		return 0
	}
	return *j.TotalPages
}

// PageJob is one page of a parent ExtractionJob. Exactly one exists per
// (job, page number); it transitions once from pending to a terminal state.
type PageJob struct {
	ID           uuid.UUID            `json:"id"`
	JobID        uuid.UUID            `json:"job_id"`
	SchedulerRef string               `json:"scheduler_ref"`
	PageNumber   int                  `json:"page_number"` // 1-indexed
	Status       constants.PageStatus `json:"status"`
	RecipeID     *uuid.UUID           `json:"recipe_id,omitempty"` // set iff status == completed
	RecipeTitle  *string              `json:"recipe_title,omitempty"`
	Attempts     int                  `json:"attempts"`
	LastError    *string              `json:"last_error,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
}
