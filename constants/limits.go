package constants

import "strings"

// Upload and rendering limits. These are part of the pipeline contract:
// callers and tests rely on the exact values.
const (
	// MaxPDFSizeMB is the largest accepted upload.
	MaxPDFSizeMB = 10
	// MaxPDFSizeBytes is MaxPDFSizeMB in bytes.
	MaxPDFSizeBytes = MaxPDFSizeMB * 1024 * 1024
	// MaxPDFPages caps how many pages a single document may have.
	MaxPDFPages = 50
	// MinTextLength is the character threshold above which a page's
	// embedded text layer is considered usable without rasterization.
	MinTextLength = 200
	// DefaultRenderDPI balances legibility against vision payload size.
	DefaultRenderDPI = 200
	// DefaultJPEGQuality is used when rendering pages as JPEG.
	DefaultJPEGQuality = 85
)

// PDFMimeType is the only accepted upload MIME type.
const PDFMimeType = "application/pdf"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
