package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, nil)
}

func TestExtractFromTextOK(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(completionBody(`{"title": "Linsensuppe", "steps": []}`)))
	})

	raw, err := c.ExtractFromText(context.Background(), "Linsensuppe. Zutaten: ...")
	if err != nil {
		t.Fatalf("ExtractFromText failed: %v", err)
	}
	if !strings.Contains(string(raw), "Linsensuppe") {
		t.Errorf("raw = %s", raw)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotReq["model"] != "test-model" {
		t.Errorf("model = %v", gotReq["model"])
	}
	rf, _ := gotReq["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", gotReq["response_format"])
	}
}

func TestExtractFromImageSendsDataURL(t *testing.T) {
	var gotReq map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(completionBody(`{"title": "x"}`)))
	})

	if _, err := c.ExtractFromImage(context.Background(), []byte{0xFF, 0xD8, 0xFF}, "jpeg"); err != nil {
		t.Fatalf("ExtractFromImage failed: %v", err)
	}
	b, _ := json.Marshal(gotReq)
	if !strings.Contains(string(b), "data:image/jpeg;base64,") {
		t.Error("request missing jpeg data URL")
	}
}

func TestExtractStripsCodeFence(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody("```json\n{\"title\": \"fenced\"}\n```")))
	})

	raw, err := c.ExtractFromText(context.Background(), "text")
	if err != nil {
		t.Fatalf("ExtractFromText failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("fence not stripped: %s", raw)
	}
	if obj["title"] != "fenced" {
		t.Errorf("title = %v", obj["title"])
	}
}

func TestExtractFailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    FailureKind
	}{
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices": []}`))
			},
			want: NoResponse,
		},
		{
			name: "empty completion",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(completionBody("   ")))
			},
			want: NoResponse,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(completionBody("Sorry, I cannot help with that.")))
			},
			want: InvalidJSON,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error": {"message": "rate limit exceeded"}}`, http.StatusTooManyRequests)
			},
			want: RateLimited,
		},
		{
			name: "image rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error": {"message": "invalid image data"}}`, http.StatusBadRequest)
			},
			want: ImageRejected,
		},
		{
			name: "backend error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream exploded", http.StatusInternalServerError)
			},
			want: BackendError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.ExtractFromText(context.Background(), "text")
			if err == nil {
				t.Fatal("expected error")
			}
			ve, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *vision.Error, got %T", err)
			}
			if ve.Kind != tt.want {
				t.Errorf("kind = %s, want %s", ve.Kind, tt.want)
			}
		})
	}
}

func TestExtractUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listens anymore

	c := NewClient(Config{APIKey: "k", BaseURL: url, Timeout: time.Second}, nil)
	_, err := c.ExtractFromText(context.Background(), "text")
	ve, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *vision.Error, got %v", err)
	}
	if ve.Kind != BackendError {
		t.Errorf("kind = %s, want %s", ve.Kind, BackendError)
	}
}
