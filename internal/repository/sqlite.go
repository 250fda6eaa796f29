package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/habitsapp/recipe-extractor/constants"
	"github.com/habitsapp/recipe-extractor/internal/entity"
)

// sqliteSchema mirrors the Postgres tables closely enough for the CLI
// driver; the authoritative schema lives under db/ent/schema.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pdf_extraction_job (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	scheduler_ref TEXT NOT NULL UNIQUE,
	total_pages INTEGER,
	pages_processed INTEGER NOT NULL DEFAULT 0,
	recipes_extracted INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS pdf_page_extraction_job (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES pdf_extraction_job(id),
	scheduler_ref TEXT NOT NULL UNIQUE,
	page_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	recipe_id TEXT,
	recipe_title TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	completed_at TIMESTAMP,
	UNIQUE (job_id, page_number)
);
CREATE TABLE IF NOT EXISTS recipe (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	locale TEXT NOT NULL,
	data BLOB,
	created_at TIMESTAMP NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (and if needed bootstraps) a local store. The CLI
// driver uses this so it can run without a Postgres instance; pass
// ":memory:" for a throwaway run.
func OpenSQLite(ctx context.Context, dsn string, log *slog.Logger) (*sqliteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// The pipeline may settle pages from multiple goroutines; a single
	// connection sidesteps SQLite writer contention.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", "dsn", dsn)
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) CreateJob(ctx context.Context, userID uuid.UUID, schedulerRef string) (*entity.ExtractionJob, error) {
	job := &entity.ExtractionJob{
		ID:           uuid.New(),
		UserID:       userID,
		SchedulerRef: schedulerRef,
		Status:       constants.JobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pdf_extraction_job (id, user_id, scheduler_ref, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID.String(), job.UserID.String(), job.SchedulerRef, string(job.Status), job.CreatedAt)
	if err != nil {
		s.log.Error("extraction_job create failed", "user_id", userID, "err", err)
		return nil, err
	}
	return job, nil
}

func (s *sqliteStore) MarkProcessing(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pdf_extraction_job SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		string(constants.JobStatusProcessing), time.Now().UTC(), jobID.String(), string(constants.JobStatusPending))
	return err
}

func (s *sqliteStore) MarkPagesQueued(ctx context.Context, jobID uuid.UUID, totalPages int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pdf_extraction_job SET status = ?, total_pages = ?
		WHERE id = ? AND status = ?`,
		string(constants.JobStatusPagesQueued), totalPages, jobID.String(), string(constants.JobStatusProcessing))
	return err
}

func (s *sqliteStore) CreatePageJob(ctx context.Context, jobID uuid.UUID, schedulerRef string, pageNumber int) (*entity.PageJob, error) {
	page := &entity.PageJob{
		ID:           uuid.New(),
		JobID:        jobID,
		SchedulerRef: schedulerRef,
		PageNumber:   pageNumber,
		Status:       constants.PageStatusPending,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pdf_page_extraction_job (id, job_id, scheduler_ref, page_number, status, attempts)
		VALUES (?, ?, ?, ?, ?, 0)`,
		page.ID.String(), page.JobID.String(), page.SchedulerRef, page.PageNumber, string(page.Status))
	if err != nil {
		s.log.Error("page_job create failed", "job_id", jobID, "page", pageNumber, "err", err)
		return nil, err
	}
	return page, nil
}

func (s *sqliteStore) MarkPageProcessing(ctx context.Context, pageID uuid.UUID, attempt int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pdf_page_extraction_job SET status = ?, attempts = ? WHERE id = ?`,
		string(constants.PageStatusProcessing), attempt, pageID.String())
	return err
}

func (s *sqliteStore) CompletePage(ctx context.Context, jobID, pageID, recipeID uuid.UUID, recipeTitle string) (Progress, error) {
	return s.settlePage(ctx, jobID, pageID, settle{
		status:      constants.PageStatusCompleted,
		recipeID:    &recipeID,
		recipeTitle: &recipeTitle,
		extracted:   true,
	})
}

func (s *sqliteStore) FailPage(ctx context.Context, jobID, pageID uuid.UUID, lastError string) (Progress, error) {
	return s.settlePage(ctx, jobID, pageID, settle{
		status:    constants.PageStatusFailed,
		lastError: &lastError,
	})
}

func (s *sqliteStore) SkipPage(ctx context.Context, jobID, pageID uuid.UUID, reason string) (Progress, error) {
	return s.settlePage(ctx, jobID, pageID, settle{
		status:    constants.PageStatusSkipped,
		lastError: &reason,
	})
}

func (s *sqliteStore) settlePage(ctx context.Context, jobID, pageID uuid.UUID, st settle) (Progress, error) {
	var progress Progress
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Progress{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var rid any
	if st.recipeID != nil {
		rid = st.recipeID.String()
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE pdf_page_extraction_job
		SET status = ?, recipe_id = ?, recipe_title = ?, last_error = ?, completed_at = ?
		WHERE id = ?`,
		string(st.status), rid, st.recipeTitle, st.lastError, time.Now().UTC(), pageID.String())
	if err != nil {
		return Progress{}, err
	}
	extracted := 0
	if st.extracted {
		extracted = 1
	}
	err = tx.QueryRowContext(ctx, `
		UPDATE pdf_extraction_job
		SET pages_processed = pages_processed + 1,
		    recipes_extracted = recipes_extracted + ?
		WHERE id = ?
		RETURNING COALESCE(total_pages, 0), pages_processed, recipes_extracted`,
		extracted, jobID.String()).Scan(&progress.TotalPages, &progress.PagesProcessed, &progress.RecipesExtracted)
	if err != nil {
		return Progress{}, err
	}
	if err := tx.Commit(); err != nil {
		return Progress{}, err
	}
	return progress, nil
}

func (s *sqliteStore) FinishJob(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, errorMessage string) error {
	var msg *string
	if errorMessage != "" {
		msg = &errorMessage
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE pdf_extraction_job
		SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(status), msg, time.Now().UTC(), jobID.String(),
		string(constants.JobStatusCompleted), string(constants.JobStatusFailed), string(constants.JobStatusCancelled))
	return err
}

func (s *sqliteStore) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	return s.FinishJob(ctx, jobID, constants.JobStatusCancelled, "")
}

func (s *sqliteStore) GetJob(ctx context.Context, jobID uuid.UUID) (*entity.ExtractionJob, error) {
	var (
		job          entity.ExtractionJob
		id, userID   string
		status       string
		totalPages   sql.NullInt64
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, scheduler_ref, total_pages, pages_processed, recipes_extracted,
		       status, error_message, created_at, started_at, completed_at
		FROM pdf_extraction_job WHERE id = ?`, jobID.String()).
		Scan(&id, &userID, &job.SchedulerRef, &totalPages, &job.PagesProcessed,
			&job.RecipesExtracted, &status, &errorMessage, &job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.ID, _ = uuid.Parse(id)
	job.UserID, _ = uuid.Parse(userID)
	job.Status = constants.JobStatus(status)
	if totalPages.Valid {
		tp := int(totalPages.Int64)
		job.TotalPages = &tp
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func (s *sqliteStore) ListPages(ctx context.Context, jobID uuid.UUID) ([]*entity.PageJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, scheduler_ref, page_number, status, recipe_id, recipe_title,
		       attempts, last_error, completed_at
		FROM pdf_page_extraction_job WHERE job_id = ? ORDER BY page_number`, jobID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*entity.PageJob
	for rows.Next() {
		var (
			p           entity.PageJob
			id, jID     string
			status      string
			recipeID    sql.NullString
			recipeTitle sql.NullString
			lastError   sql.NullString
			completedAt sql.NullTime
		)
		if err := rows.Scan(&id, &jID, &p.SchedulerRef, &p.PageNumber, &status,
			&recipeID, &recipeTitle, &p.Attempts, &lastError, &completedAt); err != nil {
			return nil, err
		}
		p.ID, _ = uuid.Parse(id)
		p.JobID, _ = uuid.Parse(jID)
		p.Status = constants.PageStatus(status)
		if recipeID.Valid {
			rid, err := uuid.Parse(recipeID.String)
			if err == nil {
				p.RecipeID = &rid
			}
		}
		if recipeTitle.Valid {
			p.RecipeTitle = &recipeTitle.String
		}
		if lastError.Valid {
			p.LastError = &lastError.String
		}
		if completedAt.Valid {
			p.CompletedAt = &completedAt.Time
		}
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

func (s *sqliteStore) CreateRecipe(ctx context.Context, userID uuid.UUID, title, locale string, data []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipe (id, user_id, title, locale, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), userID.String(), title, locale, data, time.Now().UTC())
	if err != nil {
		s.log.Error("recipe create failed", "user_id", userID, "err", err)
		return uuid.Nil, err
	}
	return id, nil
}
