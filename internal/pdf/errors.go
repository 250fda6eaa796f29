package pdf

import (
	"errors"
	"fmt"
)

// ErrMalformedDocument indicates the byte buffer could not be opened as a
// PDF at all. Distinct from a zero-page or over-limit document.
var ErrMalformedDocument = errors.New("malformed PDF document")

// PageLimitError is returned when a document exceeds the page-count policy.
type PageLimitError struct {
	Pages int
	Limit int
}

func (e *PageLimitError) Error() string {
	return fmt.Sprintf("document has %d pages, exceeding the limit of %d", e.Pages, e.Limit)
}

// RenderError is a page-level rasterization failure. Retryable.
type RenderError struct {
	PageNumber int
	Message    string
	Cause      error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("render page %d: %s: %v", e.PageNumber, e.Message, e.Cause)
	}
	return fmt.Sprintf("render page %d: %s", e.PageNumber, e.Message)
}

func (e *RenderError) Unwrap() error { return e.Cause }
