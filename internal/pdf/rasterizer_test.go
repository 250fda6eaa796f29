package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// stubRunner fakes pdftoppm: it writes canned image bytes to the output
// prefix and records what it was asked to do.
type stubRunner struct {
	suffix   string // e.g. "-1.jpg" or "-001.jpg"
	payload  []byte
	err      error
	lastArgs []string
	tmpDir   string
}

func (s *stubRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	s.lastArgs = args
	prefix := args[len(args)-1]
	s.tmpDir = filepath.Dir(prefix)
	if s.err != nil {
		return nil, []byte("Syntax Error: couldn't read xref table"), s.err
	}
	if err := os.WriteFile(prefix+s.suffix, s.payload, 0o600); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func newTestRasterizer(stub *stubRunner) *Rasterizer {
	return &Rasterizer{bin: "pdftoppm", runner: stub, logger: slog.Default()}
}

func TestRenderPage(t *testing.T) {
	tests := []struct {
		name   string
		suffix string
	}{
		{"plain page suffix", "-1.jpg"},
		{"two digit zero padding", "-01.jpg"},
		{"three digit zero padding", "-001.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubRunner{suffix: tt.suffix, payload: jpegHeader}
			r := newTestRasterizer(stub)

			out, err := r.RenderPage(context.Background(), []byte("%PDF-1.4"), 1, RenderOptions{})
			if err != nil {
				t.Fatalf("RenderPage failed: %v", err)
			}
			if !bytes.Equal(out, jpegHeader) {
				t.Errorf("image bytes altered: %x", out)
			}
		})
	}
}

func TestRenderPageArgs(t *testing.T) {
	stub := &stubRunner{suffix: "-7.jpg", payload: jpegHeader}
	r := newTestRasterizer(stub)

	if _, err := r.RenderPage(context.Background(), []byte("%PDF-1.4"), 7, RenderOptions{DPI: 300, Quality: 70}); err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}

	got := fmt.Sprintf("%v", stub.lastArgs)
	for _, want := range []string{"-r 300", "-f 7 -l 7", "-jpeg", "quality=70"} {
		if !bytes.Contains([]byte(got), []byte(want)) {
			t.Errorf("args %q missing %q", got, want)
		}
	}
}

func TestRenderPagePNG(t *testing.T) {
	stub := &stubRunner{suffix: "-2.png", payload: []byte{0x89, 'P', 'N', 'G'}}
	r := newTestRasterizer(stub)

	out, err := r.RenderPage(context.Background(), []byte("%PDF-1.4"), 2, RenderOptions{Format: "png"})
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("no image bytes")
	}
	got := fmt.Sprintf("%v", stub.lastArgs)
	if !bytes.Contains([]byte(got), []byte("-png")) {
		t.Errorf("args %q missing -png", got)
	}
	if bytes.Contains([]byte(got), []byte("-jpeg")) {
		t.Errorf("args %q should not request jpeg", got)
	}
}

func TestRenderPageRejectsBadPageNumber(t *testing.T) {
	r := newTestRasterizer(&stubRunner{})
	for _, page := range []int{0, -1} {
		if _, err := r.RenderPage(context.Background(), []byte("%PDF-1.4"), page, RenderOptions{}); err == nil {
			t.Errorf("page %d accepted", page)
		}
	}
}

func TestRenderPageCommandFailure(t *testing.T) {
	stub := &stubRunner{err: errors.New("exit status 1")}
	r := newTestRasterizer(stub)

	_, err := r.RenderPage(context.Background(), []byte("not a pdf"), 1, RenderOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %T", err)
	}
	if re.PageNumber != 1 {
		t.Errorf("page number = %d", re.PageNumber)
	}
}

func TestRenderPageNoOutput(t *testing.T) {
	// Command "succeeds" but writes the wrong page suffix.
	stub := &stubRunner{suffix: "-9.jpg", payload: jpegHeader}
	r := newTestRasterizer(stub)

	_, err := r.RenderPage(context.Background(), []byte("%PDF-1.4"), 1, RenderOptions{})
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %v", err)
	}
}

func TestRenderPageCleansUpTempDir(t *testing.T) {
	tests := []struct {
		name string
		stub *stubRunner
	}{
		{"on success", &stubRunner{suffix: "-1.jpg", payload: jpegHeader}},
		{"on failure", &stubRunner{err: errors.New("exit status 1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRasterizer(tt.stub)
			_, _ = r.RenderPage(context.Background(), []byte("%PDF-1.4"), 1, RenderOptions{})
			if tt.stub.tmpDir == "" {
				return // command never ran, nothing to check
			}
			if _, err := os.Stat(tt.stub.tmpDir); !os.IsNotExist(err) {
				t.Errorf("temp dir %s still exists", tt.stub.tmpDir)
			}
		})
	}
}
