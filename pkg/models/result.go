package models

// ErrorKind classifies failures across the runtime. Tool-level kinds
// surface as observations; terminal kinds surface on ExecutionResult.
type ErrorKind string

const (
	ErrKindBudgetExceeded      ErrorKind = "budget_exceeded"
	ErrKindPersistenceConflict ErrorKind = "persistence_conflict"
	ErrKindVersionConflict     ErrorKind = "version_conflict"
	ErrKindHandleNotFound      ErrorKind = "handle_not_found"
	ErrKindUnknownTool         ErrorKind = "unknown_tool"
	ErrKindParamValidation     ErrorKind = "param_validation"
	ErrKindNotApproved         ErrorKind = "not_approved"
	ErrKindToolTimeout         ErrorKind = "tool_timeout"
	ErrKindToolFailure         ErrorKind = "tool_failure"
	ErrKindPartialRecovery     ErrorKind = "partial_recovery"
	ErrKindMaxSteps            ErrorKind = "max_steps_reached"
	ErrKindCancelled           ErrorKind = "cancelled"
	ErrKindBusOverflow         ErrorKind = "bus_overflow"
	ErrKindJudgeUnparseable    ErrorKind = "judge_unparseable"
	ErrKindResumeValidation    ErrorKind = "resume_validation"
	ErrKindInternal            ErrorKind = "internal"
)

// RunStatus is the terminal status of one execution.
type RunStatus string

const (
	RunCompleted       RunStatus = "completed"
	RunFailed          RunStatus = "failed"
	RunMaxSteps        RunStatus = "max_steps_reached"
	RunCancelled       RunStatus = "cancelled"
	RunWaitingExternal RunStatus = "waiting_external"
)

// ExecutionResult describes the outcome of driving a session (or an
// epic run) to a terminal condition.
type ExecutionResult struct {
	SessionID   string     `json:"session_id"`
	Status      RunStatus  `json:"status"`
	FinalAnswer string     `json:"final_answer,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	Steps       int        `json:"steps"`
	Usage       TokenUsage `json:"usage"`

	// Rounds and Decision are set for epic runs.
	Rounds   int           `json:"rounds,omitempty"`
	Decision JudgeDecision `json:"decision,omitempty"`
}

// Succeeded reports whether the run reached completed.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.Status == RunCompleted
}
