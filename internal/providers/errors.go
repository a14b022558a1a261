// Package providers adapts vendor LLM SDKs to the llm.Provider
// contract.
//
// Adapters are deliberately thin: one blocking completion call, message
// and tool schema conversion, and classification of vendor errors into
// the llm sentinel errors. Retry policy lives with the caller, so the
// adapters disable any SDK-internal retries.
package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/skalene/maestro/internal/llm"
)

// contextOverflowMarkers are substrings vendors use to report that a
// prompt exceeded the model window. Matched case-insensitively.
var contextOverflowMarkers = []string{
	"prompt is too long",
	"context length",
	"context_length_exceeded",
	"maximum context",
	"too many tokens",
}

func isContextOverflow(message string) bool {
	message = strings.ToLower(message)
	for _, marker := range contextOverflowMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

// classifyStatus maps an HTTP status from a vendor API error onto the
// llm sentinel errors. Context overflow is checked before the generic
// 4xx bucket because vendors report it as a plain 400.
func classifyStatus(provider string, status int, message string, cause error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %s", provider, llm.ErrRateLimited, message)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%s: %w: %s", provider, llm.ErrServerError, message)
	case isContextOverflow(message):
		return fmt.Errorf("%s: %w: %s", provider, llm.ErrContextTooLarge, message)
	case status >= http.StatusBadRequest:
		return fmt.Errorf("%s: %w: %s", provider, llm.ErrBadRequest, message)
	default:
		return fmt.Errorf("%s: %w", provider, cause)
	}
}

// classifyMessage covers failures that never produced a typed API
// error, mostly transport problems. Connectivity failures classify as
// server errors so the caller's retry policy applies to them.
func classifyMessage(provider string, err error) error {
	if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrServerError) ||
		errors.Is(err, llm.ErrBadRequest) || errors.Is(err, llm.ErrContextTooLarge) {
		return err
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "rate limit") ||
		strings.Contains(message, "too many requests"):
		return fmt.Errorf("%s: %w: %w", provider, llm.ErrRateLimited, err)
	case isContextOverflow(message):
		return fmt.Errorf("%s: %w: %w", provider, llm.ErrContextTooLarge, err)
	case strings.Contains(message, "timeout") ||
		strings.Contains(message, "deadline exceeded") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "connection refused") ||
		strings.Contains(message, "no such host") ||
		strings.Contains(message, "internal server error") ||
		strings.Contains(message, "bad gateway") ||
		strings.Contains(message, "service unavailable"):
		return fmt.Errorf("%s: %w: %w", provider, llm.ErrServerError, err)
	default:
		return fmt.Errorf("%s: %w", provider, err)
	}
}
