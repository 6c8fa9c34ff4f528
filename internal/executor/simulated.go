package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/conductor/pkg/schema"
)

// Simulated executes plans against nothing: every step succeeds after an
// optional delay, except a step named by failStepID, which fails with a
// retryable envelope. FetchState returns an empty tool snapshot.
type Simulated struct {
	// StepDelay is slept between a step's log and its outcome. Zero means
	// no delay; tests keep it zero.
	StepDelay time.Duration

	// State, when non-nil, replaces the default empty snapshot.
	State map[string]any
}

func (s *Simulated) FetchState(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
	if s.State != nil {
		return s.State, nil
	}
	return map[string]any{
		"spaces":  []any{},
		"folders": []any{},
		"lists":   []any{},
	}, nil
}

func (s *Simulated) ExecutePlan(ctx context.Context, _ string, plan *schema.Plan, _ map[string]any, failStepID string) (<-chan schema.ExecEvent, error) {
	if plan == nil {
		return nil, schema.NewRunError(schema.ErrCodeRunTaskFailed,
			"cannot execute a nil plan", schema.SourceExecutor)
	}

	events := make(chan schema.ExecEvent)
	go func() {
		defer close(events)

		emit := func(ev schema.ExecEvent) bool {
			ev.Timestamp = time.Now().UTC()
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, step := range plan.Steps {
			if !emit(schema.ExecEvent{Kind: schema.EventStepStarted, StepID: step.ID}) {
				return
			}
			if !emit(schema.ExecEvent{
				Kind:    schema.EventStepLog,
				StepID:  step.ID,
				Message: fmt.Sprintf("Executing %s", step.OpID),
			}) {
				return
			}

			if s.StepDelay > 0 {
				select {
				case <-time.After(s.StepDelay):
				case <-ctx.Done():
					return
				}
			}

			if failStepID == step.ID {
				emit(schema.ExecEvent{
					Kind:   schema.EventStepFailed,
					StepID: step.ID,
					Error: &schema.Envelope{
						Code:      schema.ErrCodeSimulatedFailure,
						Message:   "simulated failure for testing",
						Source:    schema.SourceExecutor,
						Severity:  schema.SeverityStep,
						StepID:    step.ID,
						Retryable: true,
					},
				})
				return
			}

			if !emit(schema.ExecEvent{
				Kind:   schema.EventStepDone,
				StepID: step.ID,
				Output: map[string]any{"ok": true, "step_id": step.ID},
			}) {
				return
			}
		}

		emit(schema.ExecEvent{Kind: schema.EventRunSummary})
	}()
	return events, nil
}
