package vision

import "errors"

// FailureKind classifies backend failures for retry policy. All kinds are
// page-scoped and retryable up to the page's attempt budget; content-level
// rejections live in the recipe parser, not here.
type FailureKind string

const (
	// NoResponse: the completion came back empty.
	NoResponse FailureKind = "no_response"
	// InvalidJSON: the completion body did not parse as a JSON object.
	InvalidJSON FailureKind = "invalid_json"
	// RateLimited: the backend signaled throttling.
	RateLimited FailureKind = "rate_limited"
	// ImageRejected: the backend rejected the image itself.
	ImageRejected FailureKind = "image_rejected"
	// BackendError: any other backend failure, including timeouts.
	BackendError FailureKind = "backend_error"
)

// Error is a typed vision-call failure. The message is preserved for logs
// but is not necessarily shown to the end user.
type Error struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// AsError unwraps err into a vision Error if it is one.
func AsError(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
