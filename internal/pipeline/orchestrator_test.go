package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/habitsapp/recipe-extractor/constants"
	"github.com/habitsapp/recipe-extractor/internal/entity"
	"github.com/habitsapp/recipe-extractor/internal/pdf"
	"github.com/habitsapp/recipe-extractor/internal/repository"
	"github.com/habitsapp/recipe-extractor/internal/vision"
)

// memStore is an in-memory JobStore + RecipeStore.
type memStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*entity.ExtractionJob
	pages   map[uuid.UUID]*entity.PageJob
	recipes map[uuid.UUID][]byte
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    map[uuid.UUID]*entity.ExtractionJob{},
		pages:   map[uuid.UUID]*entity.PageJob{},
		recipes: map[uuid.UUID][]byte{},
	}
}

func (m *memStore) CreateJob(_ context.Context, userID uuid.UUID, ref string) (*entity.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &entity.ExtractionJob{
		ID: uuid.New(), UserID: userID, SchedulerRef: ref,
		Status: constants.JobStatusPending, CreatedAt: time.Now().UTC(),
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memStore) MarkProcessing(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].Status = constants.JobStatusProcessing
	return nil
}

func (m *memStore) MarkPagesQueued(_ context.Context, jobID uuid.UUID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[jobID]
	job.Status = constants.JobStatusPagesQueued
	job.TotalPages = &total
	return nil
}

func (m *memStore) CreatePageJob(_ context.Context, jobID uuid.UUID, ref string, pageNumber int) (*entity.PageJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := &entity.PageJob{
		ID: uuid.New(), JobID: jobID, SchedulerRef: ref,
		PageNumber: pageNumber, Status: constants.PageStatusPending,
	}
	m.pages[page.ID] = page
	return page, nil
}

func (m *memStore) MarkPageProcessing(_ context.Context, pageID uuid.UUID, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := m.pages[pageID]
	page.Status = constants.PageStatusProcessing
	page.Attempts = attempt
	return nil
}

func (m *memStore) settle(jobID, pageID uuid.UUID, status constants.PageStatus, recipeID *uuid.UUID, title, lastError *string, extracted bool) (repository.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := m.pages[pageID]
	page.Status = status
	page.RecipeID = recipeID
	page.RecipeTitle = title
	page.LastError = lastError
	now := time.Now().UTC()
	page.CompletedAt = &now

	job := m.jobs[jobID]
	job.PagesProcessed++
	if extracted {
		job.RecipesExtracted++
	}
	return repository.Progress{
		TotalPages:       job.TotalPagesOrZero(),
		PagesProcessed:   job.PagesProcessed,
		RecipesExtracted: job.RecipesExtracted,
	}, nil
}

func (m *memStore) CompletePage(_ context.Context, jobID, pageID, recipeID uuid.UUID, title string) (repository.Progress, error) {
	return m.settle(jobID, pageID, constants.PageStatusCompleted, &recipeID, &title, nil, true)
}

func (m *memStore) FailPage(_ context.Context, jobID, pageID uuid.UUID, lastError string) (repository.Progress, error) {
	return m.settle(jobID, pageID, constants.PageStatusFailed, nil, nil, &lastError, false)
}

func (m *memStore) SkipPage(_ context.Context, jobID, pageID uuid.UUID, reason string) (repository.Progress, error) {
	return m.settle(jobID, pageID, constants.PageStatusSkipped, nil, nil, &reason, false)
}

func (m *memStore) FinishJob(_ context.Context, jobID uuid.UUID, status constants.JobStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[jobID]
	if job.Status.Terminal() {
		return nil
	}
	job.Status = status
	if errorMessage != "" {
		job.ErrorMessage = &errorMessage
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
	return nil
}

func (m *memStore) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	return m.FinishJob(ctx, jobID, constants.JobStatusCancelled, "")
}

func (m *memStore) GetJob(_ context.Context, jobID uuid.UUID) (*entity.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	copied := *job
	return &copied, nil
}

func (m *memStore) ListPages(_ context.Context, jobID uuid.UUID) ([]*entity.PageJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.PageJob
	for _, p := range m.pages {
		if p.JobID == jobID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) CreateRecipe(_ context.Context, _ uuid.UUID, _, _ string, data []byte) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.recipes[id] = data
	return id, nil
}

// fakeReader serves canned per-page text layers, or a document error.
type fakeReader struct {
	pages []pdf.PageTextInfo
	err   error
}

func (f *fakeReader) ReadInfo(_ []byte) (pdf.DocumentInfo, error) {
	if f.err != nil {
		return pdf.DocumentInfo{}, f.err
	}
	return pdf.DocumentInfo{PageCount: len(f.pages)}, nil
}

func (f *fakeReader) ExtractText(_ []byte) (pdf.DocumentText, error) {
	if f.err != nil {
		return pdf.DocumentText{}, f.err
	}
	return pdf.DocumentText{PageCount: len(f.pages), Pages: f.pages}, nil
}

type fakeRasterizer struct {
	calls int
	err   error
}

func (f *fakeRasterizer) RenderPage(_ context.Context, _ []byte, pageNumber int, _ pdf.RenderOptions) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte{0xFF, 0xD8, 0xFF, byte(pageNumber)}, nil
}

// fakeExtractor returns per-page canned responses keyed by page text or
// image, with an optional run of failures first.
type fakeExtractor struct {
	mu         sync.Mutex
	byText     map[string]string
	imageReply string
	failures   int // errors returned before succeeding
	textCalls  int
	imageCalls int
}

func (f *fakeExtractor) ExtractFromText(_ context.Context, pageText string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	if f.failures > 0 {
		f.failures--
		return nil, &vision.Error{Kind: vision.BackendError, Message: "backend unreachable"}
	}
	reply, ok := f.byText[pageText]
	if !ok {
		return nil, &vision.Error{Kind: vision.NoResponse, Message: "no canned reply"}
	}
	return json.RawMessage(reply), nil
}

func (f *fakeExtractor) ExtractFromImage(_ context.Context, image []byte, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	if !bytes.HasPrefix(image, []byte{0xFF, 0xD8}) {
		return nil, &vision.Error{Kind: vision.ImageRejected, Message: "not a jpeg"}
	}
	if f.failures > 0 {
		f.failures--
		return nil, &vision.Error{Kind: vision.BackendError, Message: "backend unreachable"}
	}
	return json.RawMessage(f.imageReply), nil
}

func textPage(n int, text string) pdf.PageTextInfo {
	return pdf.PageInfo(n, text)
}

func longText(s string) string {
	for len(s) < 200 {
		s += " Zutaten und Zubereitung im Detail beschrieben."
	}
	return s
}

func fastConfig() Config {
	return Config{PageConcurrency: 2, MaxPageAttempts: 3, RetryBackoff: time.Millisecond}
}

func TestProcessDocumentTextLayerPath(t *testing.T) {
	store := newMemStore()
	obst := longText("Exotischer Obstsalat mit Kokosquark. ")
	pfirsich := longText("Pfirsich-Quark mit gerösteten Mandelstiften. ")
	reader := &fakeReader{pages: []pdf.PageTextInfo{
		textPage(1, obst),
		textPage(2, pfirsich),
	}}
	raster := &fakeRasterizer{}
	extractor := &fakeExtractor{byText: map[string]string{
		obst: `{"title": "Exotischer Obstsalat mit Kokosquark", "servings": 2,
			"nutrition": {"calories": 335, "protein": 23, "carbohydrates": 30, "fat": 13},
			"ingredientGroups": [{"name": "Obstsalat", "ingredients": [{"name": "Mango"}]}],
			"steps": [{"number": 1, "instruction": "Anrichten."}]}`,
		pfirsich: `{"title": "Pfirsich-Quark mit gerösteten Mandelstiften", "servings": 2,
			"nutrition": {"calories": 295},
			"ingredientGroups": [{"name": "Quark", "ingredients": [{"name": "Pfirsich"}]}],
			"steps": [{"number": 1, "instruction": "Verrühren."}]}`,
	}}

	orch := NewOrchestrator(fastConfig(), store, store, reader, raster, extractor, nil)
	result, err := orch.ProcessDocument(context.Background(), uuid.New(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if result.Job.Status != constants.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", result.Job.Status)
	}
	if result.Job.TotalPagesOrZero() != 2 || result.Job.PagesProcessed != 2 {
		t.Errorf("pages %d/%d, want 2/2", result.Job.PagesProcessed, result.Job.TotalPagesOrZero())
	}
	if result.Job.RecipesExtracted != 2 {
		t.Errorf("recipes extracted = %d, want 2", result.Job.RecipesExtracted)
	}
	if raster.calls != 0 {
		t.Errorf("rasterizer called %d times on a text-layer document", raster.calls)
	}
	if len(result.Recipes) != 2 {
		t.Fatalf("recipes = %d, want 2", len(result.Recipes))
	}
	if result.Recipes[0].Title != "Exotischer Obstsalat mit Kokosquark" {
		t.Errorf("first recipe = %q", result.Recipes[0].Title)
	}
	if result.Recipes[1].Nutrition.Calories != 295 {
		t.Errorf("second recipe calories = %v, want 295", result.Recipes[1].Nutrition.Calories)
	}
	for _, page := range result.Pages {
		if page.Strategy != StrategyTextLayer {
			t.Errorf("page %d strategy = %s, want text_layer", page.PageNumber, page.Strategy)
		}
		if page.Status != constants.PageStatusCompleted {
			t.Errorf("page %d status = %s", page.PageNumber, page.Status)
		}
	}
	if len(store.recipes) != 2 {
		t.Errorf("persisted recipes = %d, want 2", len(store.recipes))
	}
}

func TestProcessDocumentVisionPath(t *testing.T) {
	store := newMemStore()
	// Scanned pages: no text layer worth extracting from.
	reader := &fakeReader{pages: []pdf.PageTextInfo{
		textPage(1, "Seite 1"),
		textPage(2, ""),
	}}
	raster := &fakeRasterizer{}
	extractor := &fakeExtractor{imageReply: `{"title": "Gegrillter Lachs",
		"ingredientGroups": [{"ingredients": [{"name": "Lachs"}]}],
		"steps": [{"number": 1, "instruction": "Grillen."}]}`}

	orch := NewOrchestrator(fastConfig(), store, store, reader, raster, extractor, nil)
	result, err := orch.ProcessDocument(context.Background(), uuid.New(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if result.Job.Status != constants.JobStatusCompleted {
		t.Errorf("job status = %s", result.Job.Status)
	}
	if raster.calls != 2 {
		t.Errorf("rasterizer calls = %d, want 2", raster.calls)
	}
	if extractor.imageCalls != 2 || extractor.textCalls != 0 {
		t.Errorf("extractor calls image=%d text=%d", extractor.imageCalls, extractor.textCalls)
	}
	for _, page := range result.Pages {
		if page.Strategy != StrategyVision {
			t.Errorf("page %d strategy = %s, want vision", page.PageNumber, page.Strategy)
		}
	}
}

func TestProcessDocumentSkipsNonRecipePages(t *testing.T) {
	store := newMemStore()
	toc := longText("Inhaltsverzeichnis. ")
	rezept := longText("Linsensuppe. ")
	reader := &fakeReader{pages: []pdf.PageTextInfo{
		textPage(1, toc),
		textPage(2, rezept),
	}}
	extractor := &fakeExtractor{byText: map[string]string{
		toc: `{"error": "page is a table of contents"}`,
		rezept: `{"title": "Linsensuppe",
			"ingredientGroups": [{"ingredients": [{"name": "Linsen"}]}],
			"steps": [{"number": 1, "instruction": "Kochen."}]}`,
	}}

	orch := NewOrchestrator(fastConfig(), store, store, reader, &fakeRasterizer{}, extractor, nil)
	result, err := orch.ProcessDocument(context.Background(), uuid.New(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	// A skipped page does not fail the job and does not count as extracted.
	if result.Job.Status != constants.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", result.Job.Status)
	}
	if result.Job.RecipesExtracted != 1 {
		t.Errorf("recipes extracted = %d, want 1", result.Job.RecipesExtracted)
	}

	var skipped, completed int
	for _, page := range result.Pages {
		switch page.Status {
		case constants.PageStatusSkipped:
			skipped++
			if page.Err == nil || !strings.Contains(page.Err.Error(), "table of contents") {
				t.Errorf("skip reason lost: %v", page.Err)
			}
		case constants.PageStatusCompleted:
			completed++
		}
	}
	if skipped != 1 || completed != 1 {
		t.Errorf("skipped=%d completed=%d, want 1/1", skipped, completed)
	}
	// The model refusal is never retried.
	if extractor.textCalls != 2 {
		t.Errorf("extractor text calls = %d, want 2", extractor.textCalls)
	}
}

func TestProcessDocumentRetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	text := longText("Kürbissuppe. ")
	reader := &fakeReader{pages: []pdf.PageTextInfo{textPage(1, text)}}
	extractor := &fakeExtractor{
		failures: 2, // first two calls fail, third succeeds
		byText: map[string]string{text: `{"title": "Kürbissuppe",
			"ingredientGroups": [{"ingredients": [{"name": "Kürbis"}]}],
			"steps": [{"number": 1, "instruction": "Pürieren."}]}`},
	}

	orch := NewOrchestrator(fastConfig(), store, store, reader, &fakeRasterizer{}, extractor, nil)
	result, err := orch.ProcessDocument(context.Background(), uuid.New(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if result.Job.Status != constants.JobStatusCompleted {
		t.Errorf("job status = %s", result.Job.Status)
	}
	if extractor.textCalls != 3 {
		t.Errorf("extractor calls = %d, want 3", extractor.textCalls)
	}
	pages, _ := store.ListPages(context.Background(), result.Job.ID)
	if len(pages) != 1 || pages[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", pages[0].Attempts)
	}
}

func TestProcessDocumentFailsPageAfterBudget(t *testing.T) {
	store := newMemStore()
	text := longText("Brokkoli-Auflauf. ")
	reader := &fakeReader{pages: []pdf.PageTextInfo{textPage(1, text)}}
	extractor := &fakeExtractor{failures: 99} // never recovers

	orch := NewOrchestrator(fastConfig(), store, store, reader, &fakeRasterizer{}, extractor, nil)
	result, err := orch.ProcessDocument(context.Background(), uuid.New(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	// The page fails; the parent still completes with zero recipes.
	if result.Job.Status != constants.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", result.Job.Status)
	}
	if result.Job.RecipesExtracted != 0 {
		t.Errorf("recipes extracted = %d, want 0", result.Job.RecipesExtracted)
	}
	if extractor.textCalls != 3 {
		t.Errorf("extractor calls = %d, want exactly the attempt budget", extractor.textCalls)
	}
	pages, _ := store.ListPages(context.Background(), result.Job.ID)
	if pages[0].Status != constants.PageStatusFailed {
		t.Errorf("page status = %s, want failed", pages[0].Status)
	}
	if pages[0].LastError == nil || !strings.Contains(*pages[0].LastError, "backend unreachable") {
		t.Errorf("last error lost: %v", pages[0].LastError)
	}
}

// ctxCheckStore fails settling writes on a cancelled context, the way a
// real driver would.
type ctxCheckStore struct {
	*memStore
}

func (c *ctxCheckStore) CompletePage(ctx context.Context, jobID, pageID, recipeID uuid.UUID, title string) (repository.Progress, error) {
	if err := ctx.Err(); err != nil {
		return repository.Progress{}, err
	}
	return c.memStore.CompletePage(ctx, jobID, pageID, recipeID, title)
}

func (c *ctxCheckStore) FailPage(ctx context.Context, jobID, pageID uuid.UUID, lastError string) (repository.Progress, error) {
	if err := ctx.Err(); err != nil {
		return repository.Progress{}, err
	}
	return c.memStore.FailPage(ctx, jobID, pageID, lastError)
}

func (c *ctxCheckStore) SkipPage(ctx context.Context, jobID, pageID uuid.UUID, reason string) (repository.Progress, error) {
	if err := ctx.Err(); err != nil {
		return repository.Progress{}, err
	}
	return c.memStore.SkipPage(ctx, jobID, pageID, reason)
}

func (c *ctxCheckStore) FinishJob(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memStore.FinishJob(ctx, jobID, status, errorMessage)
}

// cancellingExtractor cancels the run mid-extraction, simulating shutdown
// while a page is in flight.
type cancellingExtractor struct {
	cancel context.CancelFunc
}

func (e *cancellingExtractor) ExtractFromText(context.Context, string) (json.RawMessage, error) {
	e.cancel()
	return nil, &vision.Error{Kind: vision.BackendError, Message: "backend unreachable"}
}

func (e *cancellingExtractor) ExtractFromImage(context.Context, []byte, string) (json.RawMessage, error) {
	e.cancel()
	return nil, &vision.Error{Kind: vision.BackendError, Message: "backend unreachable"}
}

func TestProcessDocumentSettlesPagesAfterCancellation(t *testing.T) {
	store := &ctxCheckStore{memStore: newMemStore()}
	text := longText("Tomatensuppe. ")
	reader := &fakeReader{pages: []pdf.PageTextInfo{textPage(1, text)}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	extractor := &cancellingExtractor{cancel: cancel}

	orch := NewOrchestrator(fastConfig(), store, store, reader, &fakeRasterizer{}, extractor, nil)
	_, _ = orch.ProcessDocument(ctx, uuid.New(), []byte("%PDF-1.4"))

	// The in-flight page must still reach a terminal state even though the
	// run context died under it.
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(store.pages))
	}
	for _, page := range store.pages {
		if !page.Status.Terminal() {
			t.Errorf("page status = %s, want a terminal state", page.Status)
		}
		if page.Status != constants.PageStatusFailed {
			t.Errorf("page status = %s, want failed", page.Status)
		}
	}
}

func TestProcessDocumentMalformedDocument(t *testing.T) {
	store := newMemStore()
	docErr := fmt.Errorf("%w: no pages", pdf.ErrMalformedDocument)
	reader := &fakeReader{err: docErr}

	orch := NewOrchestrator(fastConfig(), store, store, reader, &fakeRasterizer{}, &fakeExtractor{}, nil)
	result, err := orch.ProcessDocument(context.Background(), uuid.New(), []byte("garbage"))
	if !errors.Is(err, pdf.ErrMalformedDocument) {
		t.Fatalf("err = %v, want ErrMalformedDocument", err)
	}
	if result == nil || result.Job.Status != constants.JobStatusFailed {
		t.Fatalf("job not failed: %+v", result)
	}
	if result.Job.ErrorMessage == nil || !strings.Contains(*result.Job.ErrorMessage, "no pages") {
		t.Errorf("error message lost: %v", result.Job.ErrorMessage)
	}
}
