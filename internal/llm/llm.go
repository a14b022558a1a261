// Package llm defines the provider contract the agent loop speaks.
// Concrete adapters live in internal/providers; this package stays a
// leaf so every layer can depend on it without cycles.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/skalene/maestro/pkg/models"
)

// Provider errors. Adapters wrap transport errors into one of these so
// the loop's retry policy can classify them without knowing the vendor.
var (
	// ErrRateLimited indicates the provider throttled the request.
	// Retryable.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrServerError indicates a transient provider-side failure.
	// Retryable.
	ErrServerError = errors.New("llm: server error")

	// ErrBadRequest indicates the request itself was rejected.
	// Not retryable.
	ErrBadRequest = errors.New("llm: bad request")

	// ErrContextTooLarge indicates the prompt exceeded the model's
	// window. Not retryable; the caller must compress first.
	ErrContextTooLarge = errors.New("llm: context too large")
)

// IsRetryable reports whether err is a transient provider failure worth
// retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError)
}

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is a single completion request.
type Request struct {
	Model     string
	System    string
	Messages  []*models.Message
	Tools     []ToolSchema
	MaxTokens int
	// Temperature of -1 means provider default.
	Temperature float64
}

// Response is the model's reply: assistant text, zero or more tool
// calls, and token accounting.
type Response struct {
	Content    string
	ToolCalls  []models.ToolCall
	Usage      models.TokenUsage
	StopReason string
	Model      string
}

// Provider is a chat-completion backend.
type Provider interface {
	// Complete sends one request and blocks for the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the provider for logs and metrics.
	Name() string
}
