package pdf

import (
	"fmt"
	"strings"

	"github.com/habitsapp/recipe-extractor/constants"
)

// FileMeta describes an upload without requiring the payload itself.
type FileMeta struct {
	Filename string
	MimeType string
	Size     int64
}

// ValidationError is an input-level rejection, reported synchronously
// before any expensive work.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateFile runs the cheap pre-flight checks on an upload: MIME type
// (with a filename-extension fallback) and byte size. Pure, no I/O.
func ValidateFile(meta FileMeta) error {
	if !isPDFType(meta) {
		return &ValidationError{Message: "wrong type: only PDF files are accepted"}
	}
	if meta.Size > constants.MaxPDFSizeBytes {
		return &ValidationError{Message: fmt.Sprintf("too large: max %dMB", constants.MaxPDFSizeMB)}
	}
	return nil
}

// ValidateBase64Size checks a base64-encoded payload against the same byte
// limit by estimating the decoded size, without allocating the decoded
// buffer. Some callers only have a base64 string, not a file handle.
func ValidateBase64Size(encodedLen int) error {
	decoded := (int64(encodedLen)*3 + 3) / 4 // ceil(len * 0.75)
	if decoded > constants.MaxPDFSizeBytes {
		return &ValidationError{Message: fmt.Sprintf("too large: max %dMB", constants.MaxPDFSizeMB)}
	}
	return nil
}

func isPDFType(meta FileMeta) bool {
	if meta.MimeType != "" {
		return meta.MimeType == constants.PDFMimeType
	}
	if i := strings.LastIndex(meta.Filename, "."); i >= 0 {
		return constants.NormalizeExt(meta.Filename[i:]) == "pdf"
	}
	return false
}
