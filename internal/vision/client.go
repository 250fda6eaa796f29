package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config for the vision client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g., "gpt-4o-mini"
	Temperature float32       // 0..2
	Timeout     time.Duration // http client timeout; a timed-out call is a BackendError
}

// Client talks to an OpenAI-compatible chat/completions backend. Each
// extraction call is exactly one network round trip; retry policy belongs
// to the orchestrator.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// ExtractFromImage submits one page image plus the fixed instruction
// prompt and returns the raw JSON object the model produced.
func (c *Client) ExtractFromImage(ctx context.Context, image []byte, format string) (json.RawMessage, error) {
	mt := "image/jpeg"
	if format == "png" {
		mt = "image/png"
	}
	dataURL := "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(image)
	user := []map[string]any{
		{"type": "text", "text": BuildUserPrompt("", true)},
		{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
	}
	return c.extract(ctx, user, len(image))
}

// ExtractFromText serves the significant-text page path: same prompt and
// failure taxonomy, no image payload.
func (c *Client) ExtractFromText(ctx context.Context, pageText string) (json.RawMessage, error) {
	return c.extract(ctx, BuildUserPrompt(pageText, false), 0)
}

func (c *Client) extract(ctx context.Context, userContent any, imageBytes int) (json.RawMessage, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("vision.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"image_bytes", imageBytes,
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": BuildSystemPrompt()},
			{"role": "user", "content": userContent},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("vision.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, &Error{Kind: BackendError, Message: "decode backend response", Cause: err}
	}
	if len(cc.Choices) == 0 {
		return nil, &Error{Kind: NoResponse, Message: "no choices in response"}
	}
	content := stripCodeFence(strings.TrimSpace(cc.Choices[0].Message.Content))
	if content == "" {
		return nil, &Error{Kind: NoResponse, Message: "empty completion"}
	}
	if err := validateObject([]byte(content)); err != nil {
		c.log.Warn("vision.extract.invalid_json",
			"req_id", rid, "error", err, "content_bytes", len(content),
		)
		return nil, &Error{Kind: InvalidJSON, Message: "completion is not a JSON object", Cause: err}
	}

	c.log.Info("vision.extract.ok",
		"req_id", rid,
		"content_bytes", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return json.RawMessage(content), nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: BackendError, Message: "marshal request", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, &Error{Kind: BackendError, Message: "build request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Includes client timeouts and context cancellation: the caller
		// must still get a terminal, retryable classification.
		return nil, &Error{Kind: BackendError, Message: "backend unreachable", Cause: err}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("vision response body close error", "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	msg := fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(raw), 2<<10))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: RateLimited, Message: msg}
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(raw)), "image"):
		return nil, &Error{Kind: ImageRejected, Message: msg}
	default:
		return nil, &Error{Kind: BackendError, Message: msg}
	}
}

// stripCodeFence removes a ```json ... ``` wrapper some models emit even
// under json_object response format.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
