// Package repository persists the parent/child job hierarchy and the
// recipes the pipeline extracts. Two implementations exist: Postgres via
// pgx for service deployments, and SQLite for the reference CLI driver.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/habitsapp/recipe-extractor/constants"
	"github.com/habitsapp/recipe-extractor/internal/entity"
)

// Progress is the parent's aggregate state after a counter update. The
// counter increments are single SQL statements, so concurrent page
// completions never race read-modify-write.
type Progress struct {
	TotalPages       int
	PagesProcessed   int
	RecipesExtracted int
}

// Done reports whether every child has reached a terminal state.
func (p Progress) Done() bool {
	return p.TotalPages > 0 && p.PagesProcessed >= p.TotalPages
}

// JobStore is the persistence boundary for extraction jobs.
type JobStore interface {
	CreateJob(ctx context.Context, userID uuid.UUID, schedulerRef string) (*entity.ExtractionJob, error)
	// MarkProcessing records that the document was opened for inspection.
	MarkProcessing(ctx context.Context, jobID uuid.UUID) error
	// MarkPagesQueued sets the total page count once children exist.
	MarkPagesQueued(ctx context.Context, jobID uuid.UUID, totalPages int) error
	CreatePageJob(ctx context.Context, jobID uuid.UUID, schedulerRef string, pageNumber int) (*entity.PageJob, error)
	// MarkPageProcessing bumps the attempt counter for a (re)try.
	MarkPageProcessing(ctx context.Context, pageID uuid.UUID, attempt int) error
	// CompletePage, FailPage and SkipPage settle a child and atomically
	// advance the parent counters, returning the aggregate so the last
	// resolving child can flip the parent.
	CompletePage(ctx context.Context, jobID, pageID, recipeID uuid.UUID, recipeTitle string) (Progress, error)
	FailPage(ctx context.Context, jobID, pageID uuid.UUID, lastError string) (Progress, error)
	SkipPage(ctx context.Context, jobID, pageID uuid.UUID, reason string) (Progress, error)
	// FinishJob writes a parent terminal state. The error message is
	// reserved for document-level failures.
	FinishJob(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, errorMessage string) error
	CancelJob(ctx context.Context, jobID uuid.UUID) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*entity.ExtractionJob, error)
	ListPages(ctx context.Context, jobID uuid.UUID) ([]*entity.PageJob, error)
}

// RecipeStore is the boundary to recipe persistence. The pipeline only
// inserts; everything else is plain CRUD owned elsewhere.
type RecipeStore interface {
	CreateRecipe(ctx context.Context, userID uuid.UUID, title, locale string, data []byte) (uuid.UUID, error)
}
