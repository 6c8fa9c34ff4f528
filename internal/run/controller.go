// Package run drives one workflow run end to end: plan the steps, validate
// them, execute them in order, pause on step failure for a human decision,
// optionally replan, and archive the outcome. One run is one logical task;
// the only suspension points are the two mailboxes.
package run

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/conductor/internal/archive"
	"github.com/rendis/conductor/internal/executor"
	"github.com/rendis/conductor/internal/logging"
	"github.com/rendis/conductor/internal/planner"
	"github.com/rendis/conductor/internal/registry"
	"github.com/rendis/conductor/internal/validation"
	"github.com/rendis/conductor/pkg/schema"
)

// Orchestrator wires the collaborators a run needs. It holds no per-run
// state; StartRun may be called concurrently.
type Orchestrator struct {
	Planner    planner.Planner
	Executor   executor.Executor
	Archivist  archive.Archivist
	Registries *registry.Loader
	Logger     *slog.Logger
}

// StartRequest describes one run to start.
type StartRequest struct {
	ToolKey     string
	Intent      string
	UserContext map[string]any

	// FaultStepID forces a failure on the named step, for demonstrating the
	// decision flow. Cleared once that step completes or is retried.
	FaultStepID string
}

// DecisionMessage is one operator response to a failed step. RunID and
// StepID address it; decisions addressed elsewhere are left in the mailbox.
type DecisionMessage struct {
	RunID    string          `json:"run_id"`
	StepID   string          `json:"step_id"`
	Decision schema.Decision `json:"decision"`
}

// Mailboxes are the two inbound channels of a run.
type Mailboxes struct {
	UserMessages *Mailbox[schema.Message]
	Decisions    *Mailbox[DecisionMessage]
}

// NewMailboxes creates a pair of empty mailboxes.
func NewMailboxes() *Mailboxes {
	return &Mailboxes{
		UserMessages: NewMailbox[schema.Message](),
		Decisions:    NewMailbox[DecisionMessage](),
	}
}

// Notification is one boundary event pushed outward while a run progresses.
// Kind selects which of the optional fields are set.
type Notification struct {
	Kind   schema.EventKind         `json:"type"`
	RunID  string                   `json:"run_id"`
	Text   string                   `json:"message,omitempty"`
	Form   *schema.Message          `json:"form,omitempty"`
	Errors []schema.ValidationError `json:"errors,omitempty"`
	Plan   *schema.Plan             `json:"plan,omitempty"`
	Event  *schema.ExecEvent        `json:"event,omitempty"`
	StepID string                   `json:"step_id,omitempty"`
	Error  *schema.Envelope         `json:"error,omitempty"`
	Result *schema.RunResult        `json:"result,omitempty"`
}

// EmitFunc pushes one notification to whoever is watching the run. It may
// be backed by anything from a buffered channel to a network session; the
// controller never assumes it is fast.
type EmitFunc func(ctx context.Context, n Notification)

// runState is the working memory of one run. Owned by a single goroutine
// for the run's lifetime.
type runState struct {
	orc   *Orchestrator
	runID string
	req   StartRequest

	registry  *schema.Registry
	preState  map[string]any
	validator *validation.PlanValidator

	conversation []schema.Message
	plan         *schema.Plan
	skipped      map[string]bool
	trace        []schema.ExecEvent
	faultStepID  string
	aborted      bool

	boxes *Mailboxes
	emit  EmitFunc
	log   *slog.Logger
}

// StartRun executes one run to completion and returns its result. Every
// accepted run produces a RunResult, failure included; the only nil-result
// returns are context cancellation and pre-acceptance collaborator failures,
// both reported as RUN_ERROR before returning.
func (o *Orchestrator) StartRun(ctx context.Context, req StartRequest, boxes *Mailboxes, emit EmitFunc) (*schema.RunResult, error) {
	runID := uuid.NewString()
	ctx = logging.WithIDs(ctx, runID, "", req.ToolKey)

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &runState{
		orc:         o,
		runID:       runID,
		req:         req,
		skipped:     make(map[string]bool),
		faultStepID: req.FaultStepID,
		boxes:       boxes,
		emit:        emit,
		log:         logging.LogWith(ctx, logger),
	}

	result, err := r.execute(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.log.WarnContext(ctx, "run cancelled", "error", err)
			return nil, err
		}
		env := toEnvelope(err)
		r.log.ErrorContext(ctx, "run failed", "code", env.Code, "error", err)
		r.emit(ctx, Notification{Kind: schema.EventRunError, RunID: runID, Error: &env})
		return nil, err
	}

	r.emit(ctx, Notification{Kind: schema.EventRunDone, RunID: runID, Result: result})
	return result, nil
}

func (r *runState) execute(ctx context.Context) (*schema.RunResult, error) {
	reg, err := r.orc.Registries.Load(r.req.ToolKey)
	if err != nil {
		return nil, err
	}
	r.registry = reg

	validator, err := validation.NewPlanValidator()
	if err != nil {
		return nil, err
	}
	r.validator = validator

	pre, err := r.orc.Executor.FetchState(ctx, r.req.ToolKey, r.req.UserContext)
	if err != nil {
		return nil, err
	}
	r.preState = pre

	r.emit(ctx, Notification{Kind: schema.EventRunCreated, RunID: r.runID})
	r.emit(ctx, Notification{Kind: schema.EventDebug, RunID: r.runID, Text: "orchestrator ready"})
	r.log.InfoContext(ctx, "run created", "intent", r.req.Intent)

	// Planning: turn loop, then bounded correction on validation failure.
	plan, failed, err := r.planAndValidate(ctx)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		r.log.WarnContext(ctx, "run failed before execution", "status", failed.Status)
		return failed, nil
	}
	r.plan = plan

	r.emit(ctx, Notification{Kind: schema.EventPlanAccepted, RunID: r.runID, Plan: r.plan})
	r.log.InfoContext(ctx, "plan accepted", "plan_id", r.plan.ID, "steps", len(r.plan.Steps))
	r.emit(ctx, Notification{
		Kind:  schema.EventDebug,
		RunID: r.runID,
		Text:  "fault injection target: " + orNone(r.faultStepID),
	})

	if err := r.walk(ctx); err != nil {
		return nil, err
	}

	return r.finalize(ctx)
}

// result assembles the terminal RunResult from the run's working memory.
func (r *runState) result(status schema.RunStatus, errs []schema.Envelope) *schema.RunResult {
	res := &schema.RunResult{
		RunID:        r.runID,
		Status:       status,
		ToolKey:      r.req.ToolKey,
		Intent:       r.req.Intent,
		Plan:         r.plan,
		Conversation: r.conversation,
		Trace:        r.trace,
		Errors:       errs,
		PreState:     r.preState,
	}
	if r.registry != nil {
		res.RegistryVersion = r.registry.Version
	}
	return res
}

func toEnvelope(err error) schema.Envelope {
	var re *schema.RunError
	if errors.As(err, &re) {
		return re.Envelope
	}
	return schema.Envelope{
		Code:     schema.ErrCodeRunTaskFailed,
		Message:  err.Error(),
		Source:   schema.SourceOrchestrator,
		Severity: schema.SeverityRun,
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func nowUTC() time.Time { return time.Now().UTC() }
