package providers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/skalene/maestro/internal/llm"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		message  string
		sentinel error
	}{
		{"429", http.StatusTooManyRequests, "slow down", llm.ErrRateLimited},
		{"500", http.StatusInternalServerError, "boom", llm.ErrServerError},
		{"503", http.StatusServiceUnavailable, "overloaded", llm.ErrServerError},
		{"400 overflow", http.StatusBadRequest, "prompt is too long: 210000 tokens", llm.ErrContextTooLarge},
		{"400 generic", http.StatusBadRequest, "missing model", llm.ErrBadRequest},
		{"401", http.StatusUnauthorized, "bad key", llm.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStatus("test", tt.status, tt.message, errors.New(tt.message))
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("classifyStatus(%d, %q) = %v, want %v", tt.status, tt.message, err, tt.sentinel)
			}
		})
	}
}

func TestClassifyStatusUnknownKeepsCause(t *testing.T) {
	cause := errors.New("odd transport state")
	err := classifyStatus("test", 0, "", cause)
	if !errors.Is(err, cause) {
		t.Errorf("unclassified error should keep its cause, got %v", err)
	}
	if llm.IsRetryable(err) {
		t.Error("unclassified error must not look retryable")
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		sentinel  error
		retryable bool
	}{
		{"rate limit text", errors.New("rate limit exceeded"), llm.ErrRateLimited, true},
		{"connection refused", errors.New("dial tcp: connection refused"), llm.ErrServerError, true},
		{"timeout", errors.New("request timeout"), llm.ErrServerError, true},
		{"overflow text", errors.New("maximum context length exceeded"), llm.ErrContextTooLarge, false},
		{"plain", errors.New("something else"), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyMessage("test", tt.err)
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, err)
			}
			if llm.IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", llm.IsRetryable(err), tt.retryable)
			}
			if !errors.Is(err, tt.err) {
				t.Error("cause must stay unwrappable")
			}
		})
	}
}

func TestClassifyMessageKeepsExistingSentinel(t *testing.T) {
	already := fmt.Errorf("wrapped: %w", llm.ErrBadRequest)
	err := classifyMessage("test", already)
	if !errors.Is(err, llm.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest preserved, got %v", err)
	}
	if llm.IsRetryable(err) {
		t.Error("bad request must stay non-retryable")
	}
}
