package schema

import "time"

// EventKind discriminates both the step-level events produced by an executor
// and the run-level boundary events the controller emits outward.
type EventKind string

const (
	// Boundary events (controller → caller).
	EventRunCreated       EventKind = "RUN_CREATED"
	EventDebug            EventKind = "DEBUG"
	EventPlannerMessage   EventKind = "PLANNER_MESSAGE"
	EventPlanInvalid      EventKind = "PLAN_INVALID"
	EventPlanAccepted     EventKind = "PLAN_ACCEPTED"
	EventExec             EventKind = "EXEC_EVENT"
	EventNeedStepDecision EventKind = "NEED_STEP_DECISION"
	EventRunDone          EventKind = "RUN_DONE"
	EventRunError         EventKind = "RUN_ERROR"

	// Step-level events (executor → controller).
	EventStepStarted EventKind = "STEP_STARTED"
	EventStepLog     EventKind = "STEP_LOG"
	EventStepDone    EventKind = "STEP_DONE"
	EventStepFailed  EventKind = "STEP_FAILED"
	EventRunSummary  EventKind = "RUN_SUMMARY"
)

// ExecEvent is one entry in a run's execution trace. Produced by the
// executor as a live sequence, consumed and re-emitted by the controller.
type ExecEvent struct {
	Kind      EventKind      `json:"type"`
	StepID    string         `json:"step_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     *Envelope      `json:"error,omitempty"`
	Timestamp time.Time      `json:"ts,omitzero"`
}

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	RunSuccess   RunStatus = "SUCCESS"
	RunPartial   RunStatus = "PARTIAL"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Decision is a human/operator response to a failed step.
type Decision string

const (
	DecisionRetryStep      Decision = "RETRY_STEP"
	DecisionSkipStep       Decision = "SKIP_STEP"
	DecisionSkipDependents Decision = "SKIP_DEPENDENTS"
	DecisionReplan         Decision = "REPLAN"
	DecisionAbortRun       Decision = "ABORT_RUN"
)
