package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/skalene/maestro/pkg/models"
)

// Sentinel errors for loop control flow.
var (
	// ErrMaxSteps indicates the loop hit its step ceiling without a
	// final answer.
	ErrMaxSteps = errors.New("max steps reached")

	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrAwaitingInput indicates the session parked at a wait gate.
	ErrAwaitingInput = errors.New("session awaiting user input")

	// ErrSaveConflict indicates state persistence kept losing the
	// optimistic version check after exhausting retries.
	ErrSaveConflict = errors.New("session save conflict")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ToolError is a structured error from tool dispatch, classified for
// retry decisions and error-kind reporting.
type ToolError struct {
	Kind       models.ErrorKind
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Attempts   int
}

func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Kind))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a ToolError with automatic classification from
// the cause's message.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Kind:     models.ErrKindToolFailure,
		Attempts: 1,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Kind = classifyToolError(cause)
	}
	return err
}

// WithKind overrides the classified error kind.
func (e *ToolError) WithKind(kind models.ErrorKind) *ToolError {
	e.Kind = kind
	return e
}

// WithCallID correlates the error with a specific tool call.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// WithAttempts records how many attempts were made.
func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

// IsRetryable reports whether re-running the tool may succeed. Only
// timeouts and transient transport failures qualify.
func (e *ToolError) IsRetryable() bool {
	switch e.Kind {
	case models.ErrKindToolTimeout:
		return true
	default:
		return isTransient(e.Cause)
	}
}

func classifyToolError(err error) models.ErrorKind {
	if err == nil {
		return models.ErrKindToolFailure
	}
	if errors.Is(err, ErrToolTimeout) {
		return models.ErrKindToolTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return models.ErrKindInternal
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"):
		return models.ErrKindToolTimeout
	case strings.Contains(errStr, "cancel"):
		return models.ErrKindCancelled
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "validation"),
		strings.Contains(errStr, "required"):
		return models.ErrKindParamValidation
	default:
		return models.ErrKindToolFailure
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "unreachable") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// StepError wraps a failure with its loop phase and step number.
type StepError struct {
	Phase LoopPhase
	Step  int
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Phase, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// LoopPhase identifies where in a step a failure occurred.
type LoopPhase string

const (
	PhaseInit          LoopPhase = "init"
	PhaseBuildPrompt   LoopPhase = "build_prompt"
	PhaseCallModel     LoopPhase = "call_model"
	PhaseDispatchTools LoopPhase = "dispatch_tools"
	PhaseObservation   LoopPhase = "observation"
	PhaseSave          LoopPhase = "save"
)
