// Package pipeline coordinates the PDF recipe-extraction job: one parent
// job per document, one child job per page, text-or-vision path selection,
// bounded retry, and counter aggregation.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/habitsapp/recipe-extractor/constants"
	"github.com/habitsapp/recipe-extractor/internal/entity"
	"github.com/habitsapp/recipe-extractor/internal/metrics"
	"github.com/habitsapp/recipe-extractor/internal/pdf"
	"github.com/habitsapp/recipe-extractor/internal/recipe"
	"github.com/habitsapp/recipe-extractor/internal/repository"
)

// DocumentReader inspects a PDF without rendering it.
type DocumentReader interface {
	ReadInfo(data []byte) (pdf.DocumentInfo, error)
	ExtractText(data []byte) (pdf.DocumentText, error)
}

// PageRasterizer renders one 1-indexed page to image bytes.
type PageRasterizer interface {
	RenderPage(ctx context.Context, data []byte, pageNumber int, opts pdf.RenderOptions) ([]byte, error)
}

// Extractor is the vision-model boundary. Both entry points are a single
// round trip; retries happen here, in the orchestrator.
type Extractor interface {
	ExtractFromImage(ctx context.Context, image []byte, format string) (json.RawMessage, error)
	ExtractFromText(ctx context.Context, pageText string) (json.RawMessage, error)
}

// Strategy is the per-page extraction path, chosen once per page and
// recorded so the decision is auditable.
type Strategy string

const (
	StrategyTextLayer Strategy = "text_layer"
	StrategyVision    Strategy = "vision"
)

// Config holds orchestrator behavior knobs.
type Config struct {
	PageConcurrency int           // parallel page workers; default 1
	MaxPageAttempts int           // attempt budget for retryable failures; default 3
	RetryBackoff    time.Duration // base backoff, doubled per attempt; default 2s
	Render          pdf.RenderOptions
}

func (c Config) withDefaults() Config {
	if c.PageConcurrency <= 0 {
		c.PageConcurrency = 1
	}
	if c.MaxPageAttempts <= 0 {
		c.MaxPageAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}

// PageOutcome summarizes one settled page for callers (the CLI driver
// prints these; services read the job records instead).
type PageOutcome struct {
	PageNumber  int
	Strategy    Strategy
	Status      constants.PageStatus
	RecipeTitle string
	Err         error
}

// Result is the settled parent job plus per-page outcomes.
type Result struct {
	Job      *entity.ExtractionJob
	Pages    []PageOutcome
	Recipes  []*recipe.ExtractedRecipe
	Duration time.Duration
}

// Orchestrator owns the parent/child job records for one document run.
type Orchestrator struct {
	cfg       Config
	store     repository.JobStore
	recipes   repository.RecipeStore
	reader    DocumentReader
	raster    PageRasterizer
	extractor Extractor
	logger    *slog.Logger
}

func NewOrchestrator(
	cfg Config,
	store repository.JobStore,
	recipes repository.RecipeStore,
	reader DocumentReader,
	raster PageRasterizer,
	extractor Extractor,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		store:     store,
		recipes:   recipes,
		reader:    reader,
		raster:    raster,
		extractor: extractor,
		logger:    logger,
	}
}

// ProcessDocument runs the full pipeline for one accepted PDF. Input
// errors (malformed document, page limit) fail the parent job; page-level
// errors never do. A completed job may have zero extracted recipes.
func (o *Orchestrator) ProcessDocument(ctx context.Context, userID uuid.UUID, data []byte) (*Result, error) {
	start := time.Now()

	job, err := o.store.CreateJob(ctx, userID, "pdf-extract:"+uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.logger.Info("job.start", "job_id", job.ID, "user_id", userID, "bytes", len(data))

	if err := o.store.MarkProcessing(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	// Document-level inspection. Failures here abort the whole job; the
	// parent's error_message is reserved for exactly these.
	info, err := o.reader.ReadInfo(data)
	if err != nil {
		return o.failDocument(ctx, job, start, err)
	}
	o.logger.Info("job.document_ok", "job_id", job.ID, "pages", info.PageCount)

	text, err := o.reader.ExtractText(data)
	if err != nil {
		return o.failDocument(ctx, job, start, err)
	}

	pages := make([]*entity.PageJob, 0, text.PageCount)
	for n := 1; n <= text.PageCount; n++ {
		page, err := o.store.CreatePageJob(ctx, job.ID, fmt.Sprintf("pdf-extract-page:%s:%d", job.ID, n), n)
		if err != nil {
			_ = o.store.FinishJob(ctx, job.ID, constants.JobStatusFailed, fmt.Sprintf("queue page %d: %v", n, err))
			return nil, fmt.Errorf("create page job: %w", err)
		}
		pages = append(pages, page)
	}
	if err := o.store.MarkPagesQueued(ctx, job.ID, text.PageCount); err != nil {
		return nil, fmt.Errorf("mark pages queued: %w", err)
	}
	o.logger.Info("job.pages_queued", "job_id", job.ID, "total_pages", text.PageCount)

	outcomes := make([]PageOutcome, text.PageCount)
	extracted := make([]*recipe.ExtractedRecipe, text.PageCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PageConcurrency)
	for i, page := range pages {
		// Cancelling the parent stops spawning further page work;
		// in-flight pages settle on their own.
		if cancelled, err := o.jobCancelled(ctx, job.ID); err == nil && cancelled {
			o.logger.Warn("job.cancelled", "job_id", job.ID, "pages_spawned", i)
			break
		}
		g.Go(func() error {
			outcome, rec := o.processPage(gctx, job, page, text.Pages[page.PageNumber-1], data)
			outcomes[page.PageNumber-1] = outcome
			extracted[page.PageNumber-1] = rec
			return nil
		})
	}
	_ = g.Wait()

	settled, err := o.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load settled job: %w", err)
	}

	result := &Result{Job: settled, Duration: time.Since(start)}
	for _, oc := range outcomes {
		if oc.PageNumber != 0 {
			result.Pages = append(result.Pages, oc)
		}
	}
	for _, rec := range extracted {
		if rec != nil {
			result.Recipes = append(result.Recipes, rec)
		}
	}
	o.logger.Info("job.done",
		"job_id", job.ID,
		"status", settled.Status,
		"pages_processed", settled.PagesProcessed,
		"recipes_extracted", settled.RecipesExtracted,
		"elapsed_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// failDocument settles a parent that never made it past inspection.
func (o *Orchestrator) failDocument(ctx context.Context, job *entity.ExtractionJob, start time.Time, cause error) (*Result, error) {
	_ = o.store.FinishJob(ctx, job.ID, constants.JobStatusFailed, cause.Error())
	o.logger.Error("job.document_failed", "job_id", job.ID, "error", cause)
	settled, err := o.store.GetJob(ctx, job.ID)
	if err != nil {
		settled = job
	}
	return &Result{Job: settled, Duration: time.Since(start)}, cause
}

// Cancel aborts a job. In-flight pages settle to a terminal state so the
// recipe-reference invariant is never left dangling.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return o.store.CancelJob(ctx, jobID)
}

func (o *Orchestrator) jobCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == constants.JobStatusCancelled, nil
}

// processPage runs one page to a terminal state. Render/backend failures
// are retried up to the attempt budget with exponential backoff; content
// rejections settle as skipped immediately.
func (o *Orchestrator) processPage(ctx context.Context, job *entity.ExtractionJob, page *entity.PageJob, info pdf.PageTextInfo, data []byte) (PageOutcome, *recipe.ExtractedRecipe) {
	strategy := StrategyVision
	if info.HasSignificantText {
		strategy = StrategyTextLayer
	}
	outcome := PageOutcome{PageNumber: page.PageNumber, Strategy: strategy}
	o.logger.Info("page.start",
		"job_id", job.ID, "page", page.PageNumber,
		"strategy", strategy, "text_len", len(info.Text),
	)

	// Settling writes must land even when the run context is cancelled
	// mid-page, or the child would be stuck in a non-terminal state.
	settleCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxPageAttempts; attempt++ {
		if err := o.store.MarkPageProcessing(ctx, page.ID, attempt); err != nil {
			lastErr = err
			break
		}

		rec, err := o.extractPage(ctx, strategy, info, data, page.PageNumber)
		if err == nil {
			recipeID, serr := o.saveRecipe(settleCtx, job.UserID, rec)
			if serr != nil {
				lastErr = serr
				break
			}
			progress, serr := o.store.CompletePage(settleCtx, job.ID, page.ID, recipeID, rec.Title)
			if serr != nil {
				lastErr = serr
				break
			}
			metrics.PagesProcessed.WithLabelValues(string(constants.PageStatusCompleted)).Inc()
			metrics.RecipesExtracted.Inc()
			outcome.Status = constants.PageStatusCompleted
			outcome.RecipeTitle = rec.Title
			o.logger.Info("page.completed",
				"job_id", job.ID, "page", page.PageNumber,
				"recipe_id", recipeID, "title", rec.Title, "attempt", attempt,
			)
			o.maybeFinishParent(settleCtx, job.ID, progress)
			return outcome, rec
		}

		var parseErr *recipe.ParseError
		if errors.As(err, &parseErr) {
			// Content error: the page genuinely has no usable recipe.
			// Retrying will not change that.
			progress, serr := o.store.SkipPage(settleCtx, job.ID, page.ID, parseErr.Message)
			if serr != nil {
				lastErr = serr
				break
			}
			metrics.PagesProcessed.WithLabelValues(string(constants.PageStatusSkipped)).Inc()
			outcome.Status = constants.PageStatusSkipped
			outcome.Err = parseErr
			o.logger.Info("page.skipped",
				"job_id", job.ID, "page", page.PageNumber,
				"reason", parseErr.Message, "refusal", parseErr.Refusal,
			)
			o.maybeFinishParent(settleCtx, job.ID, progress)
			return outcome, nil
		}

		lastErr = err
		o.logger.Warn("page.attempt_failed",
			"job_id", job.ID, "page", page.PageNumber,
			"attempt", attempt, "error", err,
		)
		if attempt < o.cfg.MaxPageAttempts {
			backoff := o.cfg.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = o.cfg.MaxPageAttempts // no budget left once cancelled
			case <-time.After(backoff):
			}
		}
	}

	// Budget exhausted (or bookkeeping failed): settle as failed with the
	// last error preserved. A terminal status is always written.
	msg := "unknown error"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	progress, serr := o.store.FailPage(settleCtx, job.ID, page.ID, msg)
	if serr != nil {
		o.logger.Error("page.settle_failed", "job_id", job.ID, "page", page.PageNumber, "error", serr)
		return outcome, nil
	}
	metrics.PagesProcessed.WithLabelValues(string(constants.PageStatusFailed)).Inc()
	outcome.Status = constants.PageStatusFailed
	outcome.Err = lastErr
	o.logger.Error("page.failed", "job_id", job.ID, "page", page.PageNumber, "error", msg)
	o.maybeFinishParent(settleCtx, job.ID, progress)
	return outcome, nil
}

// extractPage runs the chosen strategy's sequential steps: render (vision
// path only), extract, parse.
func (o *Orchestrator) extractPage(ctx context.Context, strategy Strategy, info pdf.PageTextInfo, data []byte, pageNumber int) (*recipe.ExtractedRecipe, error) {
	var (
		raw json.RawMessage
		err error
	)
	switch strategy {
	case StrategyTextLayer:
		start := time.Now()
		raw, err = o.extractor.ExtractFromText(ctx, info.Text)
		metrics.VisionLatency.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	default:
		renderStart := time.Now()
		image, rerr := o.raster.RenderPage(ctx, data, pageNumber, o.cfg.Render)
		metrics.RenderLatency.Observe(time.Since(renderStart).Seconds())
		if rerr != nil {
			return nil, rerr
		}
		start := time.Now()
		raw, err = o.extractor.ExtractFromImage(ctx, image, o.cfg.Render.Format)
		metrics.VisionLatency.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return recipe.Parse(raw)
}

func (o *Orchestrator) saveRecipe(ctx context.Context, userID uuid.UUID, rec *recipe.ExtractedRecipe) (uuid.UUID, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode recipe: %w", err)
	}
	return o.recipes.CreateRecipe(ctx, userID, rec.Title, rec.Locale, data)
}

// maybeFinishParent flips the parent to completed when the last
// outstanding child resolves. The decision is computed from the aggregate
// returned by the settling statement, so a child write can never be
// outrun by the parent's completion.
func (o *Orchestrator) maybeFinishParent(ctx context.Context, jobID uuid.UUID, progress repository.Progress) {
	if !progress.Done() {
		return
	}
	if err := o.store.FinishJob(ctx, jobID, constants.JobStatusCompleted, ""); err != nil {
		o.logger.Error("job.finish_failed", "job_id", jobID, "error", err)
	}
}
