package schema

import "fmt"

// ErrorSource identifies the component a failure originated from.
type ErrorSource string

const (
	SourcePlanner      ErrorSource = "PLANNER"
	SourceExecutor     ErrorSource = "EXECUTOR"
	SourceOrchestrator ErrorSource = "ORCHESTRATOR"
)

// ErrorSeverity scopes a failure to one step or to the whole run.
type ErrorSeverity string

const (
	SeverityStep ErrorSeverity = "STEP"
	SeverityRun  ErrorSeverity = "RUN"
)

// Error codes used across validation, planning and execution.
const (
	ErrCodeSchemaInvalid        = "SCHEMA_INVALID"
	ErrCodeLimitExceeded        = "LIMIT_EXCEEDED"
	ErrCodeUnknownOperation     = "UNKNOWN_OPERATION"
	ErrCodeInvalidParams        = "INVALID_PARAMS"
	ErrCodeInvalidDependency    = "INVALID_DEPENDENCY"
	ErrCodePlanningTimeout      = "PLANNING_TIMEOUT"
	ErrCodeRegistryNotFound     = "REGISTRY_NOT_FOUND"
	ErrCodeRegistryInvalid      = "REGISTRY_INVALID"
	ErrCodePlannerInitFailed    = "PLANNER_INIT_FAILED"
	ErrCodePlannerMissingAPIKey = "PLANNER_MISSING_API_KEY"
	ErrCodePlannerInvalidOutput = "PLANNER_INVALID_OUTPUT"
	ErrCodeSimulatedFailure     = "SIMULATED_FAILURE"
	ErrCodeArchive              = "ARCHIVE_ERROR"
	ErrCodeUnknownMessage       = "UNKNOWN_MESSAGE"
	ErrCodeRunTaskFailed        = "RUN_TASK_FAILED"
)

// Envelope is the single structured error currency of the system. Every
// failure surfaced to a caller is, or wraps, one of these.
type Envelope struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Source    ErrorSource   `json:"source"`
	Severity  ErrorSeverity `json:"severity"`
	StepID    string        `json:"step_id,omitempty"`
	Retryable bool          `json:"retryable"`
}

// RunError carries an Envelope across an error return. Collaborator failures
// (planner backend unreachable, missing configuration) travel this channel;
// step failures never do — they are in-band STEP_FAILED events.
type RunError struct {
	Envelope Envelope
	Cause    error
}

func (e *RunError) Error() string {
	if e.Envelope.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Envelope.Code, e.Envelope.StepID, e.Envelope.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Envelope.Code, e.Envelope.Message)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

// NewRunError creates a run-severity RunError from the given source.
func NewRunError(code, message string, source ErrorSource) *RunError {
	return &RunError{Envelope: Envelope{
		Code:     code,
		Message:  message,
		Source:   source,
		Severity: SeverityRun,
	}}
}

// NewRunErrorf creates a run-severity RunError with a formatted message.
func NewRunErrorf(code string, source ErrorSource, format string, args ...any) *RunError {
	return NewRunError(code, fmt.Sprintf(format, args...), source)
}

// WithStep attaches a step ID and narrows severity to the step.
func (e *RunError) WithStep(stepID string) *RunError {
	e.Envelope.StepID = stepID
	e.Envelope.Severity = SeverityStep
	return e
}

// WithRetryable marks the error as retryable.
func (e *RunError) WithRetryable() *RunError {
	e.Envelope.Retryable = true
	return e
}

// WithCause attaches an underlying cause.
func (e *RunError) WithCause(err error) *RunError {
	e.Cause = err
	return e
}
