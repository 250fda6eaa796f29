package pdf

import (
	"strings"
	"testing"

	"github.com/habitsapp/recipe-extractor/constants"
)

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name    string
		meta    FileMeta
		wantErr string
	}{
		{
			name: "valid pdf at the size limit",
			meta: FileMeta{Filename: "recipes.pdf", MimeType: "application/pdf", Size: constants.MaxPDFSizeBytes},
		},
		{
			name:    "one byte over the limit",
			meta:    FileMeta{Filename: "recipes.pdf", MimeType: "application/pdf", Size: constants.MaxPDFSizeBytes + 1},
			wantErr: "max 10MB",
		},
		{
			name:    "wrong mime type",
			meta:    FileMeta{Filename: "photo.jpg", MimeType: "image/jpeg", Size: 100},
			wantErr: "only PDF",
		},
		{
			name: "no mime type, pdf extension fallback",
			meta: FileMeta{Filename: "Rezepte.PDF", Size: 100},
		},
		{
			name:    "no mime type, wrong extension",
			meta:    FileMeta{Filename: "notes.txt", Size: 100},
			wantErr: "only PDF",
		},
		{
			name:    "no mime type, no extension",
			meta:    FileMeta{Filename: "mystery", Size: 100},
			wantErr: "only PDF",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFile(tt.meta)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateBase64Size(t *testing.T) {
	// 10MB decodes from ceil(10MB / 3) * 4 encoded bytes.
	atLimit := int(constants.MaxPDFSizeBytes) / 3 * 4
	if err := ValidateBase64Size(atLimit); err != nil {
		t.Errorf("payload at limit rejected: %v", err)
	}

	overLimit := (int(constants.MaxPDFSizeBytes)/3 + 2) * 4
	err := ValidateBase64Size(overLimit)
	if err == nil {
		t.Fatal("oversized payload accepted")
	}
	if !strings.Contains(err.Error(), "max 10MB") {
		t.Errorf("error %q should contain %q", err.Error(), "max 10MB")
	}
}
