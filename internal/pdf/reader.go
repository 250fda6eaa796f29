package pdf

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"

	"github.com/habitsapp/recipe-extractor/constants"
)

// DocumentInfo is the structural metadata we read before any rendering.
type DocumentInfo struct {
	PageCount int
}

// PageTextInfo is one page's embedded text layer and its classification.
type PageTextInfo struct {
	PageNumber         int
	Text               string
	HasSignificantText bool
}

// DocumentText is the per-page text layer of a whole document.
type DocumentText struct {
	PageCount int
	Pages     []PageTextInfo
	TotalText string
}

// Reader opens documents just far enough for metadata and text-layer
// inspection. No rendering, no filesystem writes.
type Reader struct {
	maxPages int
}

func NewReader() *Reader {
	return &Reader{maxPages: constants.MaxPDFPages}
}

// ReadInfo opens the document structurally and returns the page count.
// An empty or corrupt buffer is a malformed-document failure, never
// silently zero pages.
func (r *Reader) ReadInfo(data []byte) (DocumentInfo, error) {
	doc, pages, err := r.open(data)
	if err != nil {
		return DocumentInfo{}, err
	}
	defer doc.Close()
	return DocumentInfo{PageCount: pages}, nil
}

// ExtractText extracts the embedded text layer per page, concatenating all
// text runs in document order. It enforces the same page-count limit as
// ReadInfo because callers may invoke it without reading metadata first.
func (r *Reader) ExtractText(data []byte) (DocumentText, error) {
	doc, pages, err := r.open(data)
	if err != nil {
		return DocumentText{}, err
	}
	defer doc.Close()

	out := DocumentText{PageCount: pages, Pages: make([]PageTextInfo, 0, pages)}
	var total strings.Builder
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			// A page without a readable text layer is an empty page, not a
			// document failure; the vision path covers it.
			text = ""
		}
		out.Pages = append(out.Pages, PageInfo(i+1, text))
		total.WriteString(text)
	}
	out.TotalText = total.String()
	return out, nil
}

// PageInfo classifies one page's text content.
func PageInfo(pageNumber int, text string) PageTextInfo {
	return PageTextInfo{
		PageNumber:         pageNumber,
		Text:               text,
		HasSignificantText: SignificantText(text),
	}
}

// SignificantText reports whether a text layer is long enough to extract
// from directly, without rasterization. The threshold counts characters,
// not bytes, so non-ASCII pages are not over-counted.
func SignificantText(text string) bool {
	return utf8.RuneCountInString(text) >= constants.MinTextLength
}

func (r *Reader) open(data []byte) (*fitz.Document, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty buffer", ErrMalformedDocument)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	pages := doc.NumPage()
	if pages == 0 {
		doc.Close()
		return nil, 0, fmt.Errorf("%w: no pages", ErrMalformedDocument)
	}
	if pages > r.maxPages {
		doc.Close()
		return nil, 0, &PageLimitError{Pages: pages, Limit: r.maxPages}
	}
	return doc, pages, nil
}
