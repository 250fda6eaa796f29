package pdf

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/habitsapp/recipe-extractor/constants"
)

// RenderOptions control one page render. Zero values fall back to the
// module defaults.
type RenderOptions struct {
	DPI     int
	Format  string // "jpeg" (default) or "png"
	Quality int    // JPEG quality 1..100
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.DPI <= 0 {
		o.DPI = constants.DefaultRenderDPI
	}
	if o.Format == "" {
		o.Format = "jpeg"
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = constants.DefaultJPEGQuality
	}
	return o
}

// Rasterizer renders single pages to raster images through pdftoppm.
type Rasterizer struct {
	bin    string
	runner Runner
	logger *slog.Logger
}

func NewRasterizer(bin string, logger *slog.Logger) *Rasterizer {
	if bin == "" {
		bin = "pdftoppm"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rasterizer{bin: bin, runner: execRunner{}, logger: logger}
}

// RenderPage renders one 1-indexed page to image bytes. The whole call is
// scoped to a private temp directory that is removed on every exit path,
// success or failure. Out-of-range pages are a caller error, not clamped:
// pageNumber < 1 is rejected up front, and a page past the end of the
// document surfaces as a RenderError because pdftoppm produces no output
// for it. The rasterizer does not open the document itself, so it cannot
// know the page count; callers that do should bound-check first.
func (r *Rasterizer) RenderPage(ctx context.Context, data []byte, pageNumber int, opts RenderOptions) ([]byte, error) {
	if pageNumber < 1 {
		return nil, fmt.Errorf("page number must be >= 1, got %d", pageNumber)
	}
	opts = opts.withDefaults()

	tmpDir, err := os.MkdirTemp("", "recipe-render-*")
	if err != nil {
		return nil, &RenderError{PageNumber: pageNumber, Message: "create temp dir", Cause: err}
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("failed to remove temp dir", "path", path, "error", err)
		}
	}(tmpDir)

	src := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, &RenderError{PageNumber: pageNumber, Message: "write source file", Cause: err}
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -f N -l N [-jpeg|-png] <in.pdf> <tmp/page>
	args := []string{
		"-r", fmt.Sprintf("%d", opts.DPI),
		"-f", fmt.Sprintf("%d", pageNumber),
		"-l", fmt.Sprintf("%d", pageNumber),
	}
	ext := "png"
	if opts.Format == "jpeg" {
		ext = "jpg"
		args = append(args, "-jpeg", "-jpegopt", fmt.Sprintf("quality=%d", opts.Quality))
	} else {
		args = append(args, "-png")
	}
	args = append(args, src, prefix)

	_, errb, err := r.runner.Run(ctx, r.bin, args...)
	if err != nil {
		return nil, &RenderError{PageNumber: pageNumber, Message: string(errb), Cause: err}
	}

	out, err := readRenderedPage(prefix, pageNumber, ext)
	if err != nil {
		return nil, &RenderError{PageNumber: pageNumber, Message: "no output image", Cause: err}
	}

	r.logger.Debug("page rendered",
		"page", pageNumber,
		"dpi", opts.DPI,
		"format", opts.Format,
		"bytes", len(out),
	)
	return out, nil
}

// readRenderedPage locates the image pdftoppm produced. The page suffix is
// zero-padded to the width of the document's page count, so probe the
// plausible variants.
func readRenderedPage(prefix string, pageNumber int, ext string) ([]byte, error) {
	candidates := []string{
		fmt.Sprintf("%s-%d.%s", prefix, pageNumber, ext),
		fmt.Sprintf("%s-%02d.%s", prefix, pageNumber, ext),
		fmt.Sprintf("%s-%03d.%s", prefix, pageNumber, ext),
	}
	for _, path := range candidates {
		if b, err := os.ReadFile(path); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no file matching %s-*%d.%s", prefix, pageNumber, ext)
}
