package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/habitsapp/recipe-extractor/constants"
	"github.com/habitsapp/recipe-extractor/internal/common"
	"github.com/habitsapp/recipe-extractor/internal/entity"
)

// Open creates a pgx pool from the database config.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger.Info("connecting to database")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "error", err)
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "recipe-extractor"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	logger.Info("successfully connected to database")
	return pool, nil
}

// HealthCheck pings the pool to catch DSN issues early.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return pool.Ping(ctx)
}

type postgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresStore returns a JobStore and RecipeStore backed by one pool.
func NewPostgresStore(pool *pgxpool.Pool, log *slog.Logger) *postgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &postgresStore{pool: pool, log: log}
}

func (s *postgresStore) CreateJob(ctx context.Context, userID uuid.UUID, schedulerRef string) (*entity.ExtractionJob, error) {
	job := &entity.ExtractionJob{
		ID:           uuid.New(),
		UserID:       userID,
		SchedulerRef: schedulerRef,
		Status:       constants.JobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pdf_extraction_job (id, user_id, scheduler_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.UserID, job.SchedulerRef, job.Status, job.CreatedAt)
	if err != nil {
		s.log.Error("extraction_job create failed", "user_id", userID, "err", err)
		return nil, err
	}
	s.log.Info("extraction_job created", "job_id", job.ID, "user_id", userID)
	return job, nil
}

func (s *postgresStore) MarkProcessing(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pdf_extraction_job
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`,
		jobID, constants.JobStatusProcessing, time.Now().UTC(), constants.JobStatusPending)
	return err
}

func (s *postgresStore) MarkPagesQueued(ctx context.Context, jobID uuid.UUID, totalPages int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pdf_extraction_job
		SET status = $2, total_pages = $3
		WHERE id = $1 AND status = $4`,
		jobID, constants.JobStatusPagesQueued, totalPages, constants.JobStatusProcessing)
	return err
}

func (s *postgresStore) CreatePageJob(ctx context.Context, jobID uuid.UUID, schedulerRef string, pageNumber int) (*entity.PageJob, error) {
	page := &entity.PageJob{
		ID:           uuid.New(),
		JobID:        jobID,
		SchedulerRef: schedulerRef,
		PageNumber:   pageNumber,
		Status:       constants.PageStatusPending,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pdf_page_extraction_job (id, job_id, scheduler_ref, page_number, status, attempts)
		VALUES ($1, $2, $3, $4, $5, 0)`,
		page.ID, page.JobID, page.SchedulerRef, page.PageNumber, page.Status)
	if err != nil {
		s.log.Error("page_job create failed", "job_id", jobID, "page", pageNumber, "err", err)
		return nil, err
	}
	return page, nil
}

func (s *postgresStore) MarkPageProcessing(ctx context.Context, pageID uuid.UUID, attempt int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pdf_page_extraction_job
		SET status = $2, attempts = $3
		WHERE id = $1`,
		pageID, constants.PageStatusProcessing, attempt)
	return err
}

func (s *postgresStore) CompletePage(ctx context.Context, jobID, pageID, recipeID uuid.UUID, recipeTitle string) (Progress, error) {
	return s.settlePage(ctx, jobID, pageID, settle{
		status:      constants.PageStatusCompleted,
		recipeID:    &recipeID,
		recipeTitle: &recipeTitle,
		extracted:   true,
	})
}

func (s *postgresStore) FailPage(ctx context.Context, jobID, pageID uuid.UUID, lastError string) (Progress, error) {
	return s.settlePage(ctx, jobID, pageID, settle{
		status:    constants.PageStatusFailed,
		lastError: &lastError,
	})
}

func (s *postgresStore) SkipPage(ctx context.Context, jobID, pageID uuid.UUID, reason string) (Progress, error) {
	return s.settlePage(ctx, jobID, pageID, settle{
		status:    constants.PageStatusSkipped,
		lastError: &reason,
	})
}

type settle struct {
	status      constants.PageStatus
	recipeID    *uuid.UUID
	recipeTitle *string
	lastError   *string
	extracted   bool
}

// settlePage writes the child's terminal state and advances the parent
// counters in one transaction. The increment is SQL-side, so the returned
// aggregate is correct under concurrent page completions.
func (s *postgresStore) settlePage(ctx context.Context, jobID, pageID uuid.UUID, st settle) (Progress, error) {
	var progress Progress
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE pdf_page_extraction_job
			SET status = $2, recipe_id = $3, recipe_title = $4, last_error = $5, completed_at = $6
			WHERE id = $1`,
			pageID, st.status, st.recipeID, st.recipeTitle, st.lastError, time.Now().UTC())
		if err != nil {
			return err
		}
		extracted := 0
		if st.extracted {
			extracted = 1
		}
		return tx.QueryRow(ctx, `
			UPDATE pdf_extraction_job
			SET pages_processed = pages_processed + 1,
			    recipes_extracted = recipes_extracted + $2
			WHERE id = $1
			RETURNING COALESCE(total_pages, 0), pages_processed, recipes_extracted`,
			jobID, extracted).Scan(&progress.TotalPages, &progress.PagesProcessed, &progress.RecipesExtracted)
	})
	if err != nil {
		s.log.Error("page_job settle failed", "page_id", pageID, "status", st.status, "err", err)
		return Progress{}, err
	}
	s.log.Info("page_job settled",
		"job_id", jobID, "page_id", pageID, "status", st.status,
		"pages_processed", progress.PagesProcessed, "total_pages", progress.TotalPages)
	return progress, nil
}

func (s *postgresStore) FinishJob(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, errorMessage string) error {
	var msg *string
	if errorMessage != "" {
		msg = &errorMessage
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE pdf_extraction_job
		SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1 AND status NOT IN ($5, $6, $7)`,
		jobID, status, msg, time.Now().UTC(),
		constants.JobStatusCompleted, constants.JobStatusFailed, constants.JobStatusCancelled)
	if err != nil {
		s.log.Error("extraction_job finish failed", "job_id", jobID, "status", status, "err", err)
		return err
	}
	s.log.Info("extraction_job finished", "job_id", jobID, "status", status)
	return nil
}

func (s *postgresStore) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	return s.FinishJob(ctx, jobID, constants.JobStatusCancelled, "")
}

func (s *postgresStore) GetJob(ctx context.Context, jobID uuid.UUID) (*entity.ExtractionJob, error) {
	job := &entity.ExtractionJob{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, scheduler_ref, total_pages, pages_processed, recipes_extracted,
		       status, error_message, created_at, started_at, completed_at
		FROM pdf_extraction_job WHERE id = $1`, jobID).
		Scan(&job.ID, &job.UserID, &job.SchedulerRef, &job.TotalPages, &job.PagesProcessed,
			&job.RecipesExtracted, &job.Status, &job.ErrorMessage, &job.CreatedAt,
			&job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *postgresStore) ListPages(ctx context.Context, jobID uuid.UUID) ([]*entity.PageJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, scheduler_ref, page_number, status, recipe_id, recipe_title,
		       attempts, last_error, completed_at
		FROM pdf_page_extraction_job WHERE job_id = $1 ORDER BY page_number`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*entity.PageJob
	for rows.Next() {
		p := &entity.PageJob{}
		if err := rows.Scan(&p.ID, &p.JobID, &p.SchedulerRef, &p.PageNumber, &p.Status,
			&p.RecipeID, &p.RecipeTitle, &p.Attempts, &p.LastError, &p.CompletedAt); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *postgresStore) CreateRecipe(ctx context.Context, userID uuid.UUID, title, locale string, data []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recipe (id, user_id, title, locale, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, title, locale, data, time.Now().UTC())
	if err != nil {
		s.log.Error("recipe create failed", "user_id", userID, "err", err)
		return uuid.Nil, err
	}
	return id, nil
}
