// Command extract-pdf runs the full extraction pipeline against one local
// PDF, backed by a SQLite job store. Meant for development and manual
// verification; services run the same orchestrator against Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/habitsapp/recipe-extractor/internal/common"
	"github.com/habitsapp/recipe-extractor/internal/export"
	"github.com/habitsapp/recipe-extractor/internal/pdf"
	"github.com/habitsapp/recipe-extractor/internal/pipeline"
	"github.com/habitsapp/recipe-extractor/internal/repository"
	"github.com/habitsapp/recipe-extractor/internal/vision"
)

func main() {
	saveImages := flag.Bool("save-images", false, "keep rendered page images in a temp dir and print its path")
	verbose := flag.Bool("verbose", false, "debug-level logging")
	dpi := flag.Int("dpi", 0, "render DPI override")
	png := flag.Bool("png", false, "render PNG instead of JPEG")
	xlsxPath := flag.String("xlsx", "", "write extracted recipes to an XLSX workbook at this path")
	dbPath := flag.String("db", ":memory:", "SQLite database path")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: extract-pdf [flags] <file.pdf>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	if *dpi > 0 {
		cfg.Render.DPI = *dpi
	}
	if *png {
		cfg.Render.Format = "png"
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, path, *dbPath, *saveImages, *xlsxPath, logger); err != nil {
		logger.Error("extraction failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, path, dbPath string, saveImages bool, xlsxPath string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	meta := pdf.FileMeta{
		Filename: filepath.Base(path),
		MimeType: "application/pdf",
		Size:     int64(len(data)),
	}
	if err := pdf.ValidateFile(meta); err != nil {
		return err
	}

	store, err := repository.OpenSQLite(ctx, dbPath, logger)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	reader := pdf.NewReader()
	client := vision.NewClient(vision.Config{
		APIKey:      cfg.Vision.APIKey,
		BaseURL:     cfg.Vision.BaseURL,
		Model:       cfg.Vision.Model,
		Temperature: cfg.Vision.Temperature,
		Timeout:     cfg.Vision.Timeout,
	}, logger)

	var raster pipeline.PageRasterizer = pdf.NewRasterizer(cfg.Render.Pdftoppm, logger)
	if saveImages {
		dir, err := os.MkdirTemp("", "recipe-pages-*")
		if err != nil {
			return fmt.Errorf("create image dir: %w", err)
		}
		fmt.Fprintf(os.Stderr, "rendered pages will be kept in %s\n", dir)
		raster = &savingRasterizer{inner: raster, dir: dir, format: cfg.Render.Format}
	}

	orch := pipeline.NewOrchestrator(
		pipeline.Config{
			PageConcurrency: cfg.Pipeline.PageConcurrency,
			MaxPageAttempts: cfg.Pipeline.MaxPageAttempts,
			RetryBackoff:    cfg.Pipeline.RetryBackoff,
			Render: pdf.RenderOptions{
				DPI:     cfg.Render.DPI,
				Format:  cfg.Render.Format,
				Quality: cfg.Render.Quality,
			},
		},
		store, store, reader, raster, client, logger,
	)

	result, err := orch.ProcessDocument(ctx, uuid.New(), data)
	if err != nil {
		return err
	}

	for _, page := range result.Pages {
		switch {
		case page.RecipeTitle != "":
			fmt.Printf("page %d [%s]: %s\n", page.PageNumber, page.Strategy, page.RecipeTitle)
		case page.Err != nil:
			fmt.Printf("page %d [%s]: %s (%v)\n", page.PageNumber, page.Strategy, page.Status, page.Err)
		default:
			fmt.Printf("page %d [%s]: %s\n", page.PageNumber, page.Strategy, page.Status)
		}
	}
	fmt.Printf("job %s: %s, %d/%d pages, %d recipes, %s\n",
		result.Job.ID, result.Job.Status,
		result.Job.PagesProcessed, result.Job.TotalPagesOrZero(),
		result.Job.RecipesExtracted, result.Duration.Round(10_000_000))

	if xlsxPath != "" && len(result.Recipes) > 0 {
		buf, err := export.NewService(logger).ExportRecipesXLSX(result.Recipes)
		if err != nil {
			return fmt.Errorf("export xlsx: %w", err)
		}
		if err := os.WriteFile(xlsxPath, buf, 0o644); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", xlsxPath)
	}
	return nil
}

// savingRasterizer wraps a rasterizer and persists each rendered page so
// the operator can inspect what the model saw.
type savingRasterizer struct {
	inner  pipeline.PageRasterizer
	dir    string
	format string
}

func (s *savingRasterizer) RenderPage(ctx context.Context, data []byte, pageNumber int, opts pdf.RenderOptions) ([]byte, error) {
	image, err := s.inner.RenderPage(ctx, data, pageNumber, opts)
	if err != nil {
		return nil, err
	}
	ext := "jpg"
	if s.format == "png" {
		ext = "png"
	}
	name := filepath.Join(s.dir, fmt.Sprintf("page-%03d.%s", pageNumber, ext))
	if werr := os.WriteFile(name, image, 0o644); werr != nil {
		slog.Warn("could not save rendered page", "path", name, "error", werr)
	}
	return image, nil
}
