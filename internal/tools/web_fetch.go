package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// Web fetch limits.
const (
	MaxFetchBytes       = 2 << 20
	DefaultFetchTimeout = 30 * time.Second
)

// WebFetch retrieves a URL over HTTP(S) and returns the body text.
type WebFetch struct {
	client *http.Client
}

// NewWebFetch creates the web_fetch tool. A nil client gets a default
// with a sane timeout.
func NewWebFetch(client *http.Client) *WebFetch {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &WebFetch{client: client}
}

func (w *WebFetch) Name() string { return "web_fetch" }

func (w *WebFetch) Description() string {
	return "Fetch a URL over HTTP or HTTPS and return the response body as text."
}

func (w *WebFetch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "Absolute http(s) URL"}
		},
		"required": ["url"]
	}`)
}

func (w *WebFetch) Meta() Meta {
	return Meta{Parallel: true, Idempotent: true, Timeout: DefaultFetchTimeout}
}

func (w *WebFetch) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return Errorf(models.ErrKindParamValidation, "decoding params: %v", err), nil
	}
	parsed, err := url.Parse(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Errorf(models.ErrKindParamValidation, "url must be absolute http(s): %q", in.URL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return Errorf(models.ErrKindToolFailure, "building request: %v", err), nil
	}
	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Errorf(models.ErrKindToolTimeout, "fetch timed out: %s", in.URL), nil
		}
		return Errorf(models.ErrKindToolFailure, "fetching %s: %v", in.URL, err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return Errorf(models.ErrKindToolFailure, "reading body: %v", err), nil
	}
	truncated := false
	if len(body) > MaxFetchBytes {
		body = body[:MaxFetchBytes]
		truncated = true
	}

	content := fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, body)
	if truncated {
		content += fmt.Sprintf("\n[truncated at %d bytes]", MaxFetchBytes)
	}
	return &models.ToolResult{Content: content, IsError: resp.StatusCode >= 400}, nil
}
