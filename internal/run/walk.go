package run

import (
	"context"
	"fmt"

	"github.com/rendis/conductor/pkg/schema"
)

// walkState tracks where the controller is in a plan attempt.
type walkState string

const (
	stateRunning          walkState = "RUNNING"
	stateAwaitingDecision walkState = "AWAITING_DECISION"
	stateReplanning       walkState = "REPLANNING"
	stateAborted          walkState = "ABORTED"
	stateComplete         walkState = "COMPLETE"
)

// walk executes the accepted plan's steps strictly in declared order. No
// topological sort happens here: the planner is trusted to order steps
// consistently with depends_on, and the skip cascade relies on that order.
func (r *runState) walk(ctx context.Context) error {
	state := stateRunning
	setState := func(s walkState) {
		state = s
		r.log.DebugContext(ctx, "walk state", "state", string(s))
	}
	_ = state

	for {
		needReplan := false

		for idx := 0; idx < len(r.plan.Steps) && !r.aborted; idx++ {
			step := r.plan.Steps[idx]
			if r.skipped[step.ID] {
				continue
			}
			if r.dependsOnSkipped(step) {
				// Forward cascade: a skipped dependency skips the step too.
				r.skipped[step.ID] = true
				continue
			}

			replan, err := r.runStep(ctx, step, setState)
			if err != nil {
				return err
			}
			if replan {
				needReplan = true
				break
			}
		}

		if r.aborted {
			setState(stateAborted)
			return nil
		}
		if !needReplan {
			setState(stateComplete)
			return nil
		}

		setState(stateReplanning)
		ok, err := r.replan(ctx)
		if err != nil {
			return err
		}
		if !ok {
			r.aborted = true
			setState(stateAborted)
			return nil
		}
		setState(stateRunning)
	}
}

func (r *runState) dependsOnSkipped(step schema.Step) bool {
	for _, dep := range step.DependsOn {
		if r.skipped[dep] {
			return true
		}
	}
	return false
}

// runStep executes one step as a single-step sub-plan, resolving failures
// through the decision mailbox. It returns true when the operator asked for
// a replan.
func (r *runState) runStep(ctx context.Context, step schema.Step, setState func(walkState)) (bool, error) {
	retryWithoutFault := false

	for {
		faultTarget := ""
		if !retryWithoutFault && r.faultStepID == step.ID {
			faultTarget = step.ID
		}

		failure, completed, err := r.executeStep(ctx, step, faultTarget)
		if err != nil {
			return false, err
		}
		if failure == nil {
			if completed && r.faultStepID == step.ID {
				r.faultStepID = ""
			}
			return false, nil
		}

		setState(stateAwaitingDecision)
		decision, err := r.awaitDecision(ctx, failure)
		if err != nil {
			return false, err
		}
		setState(stateRunning)

		switch decision {
		case schema.DecisionAbortRun:
			r.aborted = true
			return false, nil
		case schema.DecisionRetryStep:
			retryWithoutFault = true
			continue
		case schema.DecisionSkipStep:
			r.skipped[step.ID] = true
			r.clearFault(step.ID)
			return false, nil
		case schema.DecisionSkipDependents:
			r.skipped[step.ID] = true
			// Direct dependents only; later steps cascade through the
			// forward walk.
			for _, s := range r.plan.Steps {
				if s.DependsOn != nil && contains(s.DependsOn, step.ID) {
					r.skipped[s.ID] = true
				}
			}
			r.clearFault(step.ID)
			return false, nil
		case schema.DecisionReplan:
			msg := "unknown error"
			if failure.Error != nil {
				msg = failure.Error.Message
			}
			r.conversation = append(r.conversation, schema.Message{
				Role: "assistant",
				Kind: schema.MessageText,
				Text: fmt.Sprintf("Step %s failed: %s. Please provide a new plan.", failure.StepID, msg),
			})
			return true, nil
		default:
			// Unrecognized decision: the step ends without success or
			// failure and the walk advances.
			r.log.WarnContext(ctx, "unrecognized decision", "decision", string(decision), "step_id", step.ID)
			return false, nil
		}
	}
}

// executeStep streams one single-step sub-plan through the executor,
// re-emitting every event except the sub-execution's own summary. It
// returns the failure event for this step, or whether a STEP_DONE was seen.
func (r *runState) executeStep(ctx context.Context, step schema.Step, faultTarget string) (*schema.ExecEvent, bool, error) {
	subPlan := &schema.Plan{
		ID:        fmt.Sprintf("%s_step_%s", r.plan.ID, step.ID),
		ToolKey:   r.req.ToolKey,
		Objective: fmt.Sprintf("Execute step %s", step.ID),
		Steps:     []schema.Step{step},
	}

	events, err := r.orc.Executor.ExecutePlan(ctx, r.req.ToolKey, subPlan, r.req.UserContext, faultTarget)
	if err != nil {
		return nil, false, err
	}

	var failure *schema.ExecEvent
	completed := false
	for ev := range events {
		if ev.Kind == schema.EventRunSummary {
			// Only the run-level summary is emitted, in finalize.
			continue
		}
		r.trace = append(r.trace, ev)
		evCopy := ev
		r.emit(ctx, Notification{Kind: schema.EventExec, RunID: r.runID, Event: &evCopy})

		if ev.Kind == schema.EventStepFailed && ev.StepID == step.ID {
			failure = &evCopy
			break
		}
		if ev.Kind == schema.EventStepDone && ev.StepID == step.ID {
			completed = true
		}
	}
	return failure, completed, nil
}

// awaitDecision blocks until a decision addressed to this run and step
// arrives. Decisions for other runs or steps stay in the mailbox.
func (r *runState) awaitDecision(ctx context.Context, failure *schema.ExecEvent) (schema.Decision, error) {
	r.emit(ctx, Notification{
		Kind:   schema.EventNeedStepDecision,
		RunID:  r.runID,
		StepID: failure.StepID,
		Error:  failure.Error,
	})
	r.log.InfoContext(ctx, "awaiting step decision", "step_id", failure.StepID)

	msg, err := r.boxes.Decisions.TakeMatch(ctx, func(d DecisionMessage) bool {
		return d.RunID == r.runID && d.StepID == failure.StepID
	})
	if err != nil {
		return "", err
	}
	return msg.Decision, nil
}

func (r *runState) clearFault(stepID string) {
	if r.faultStepID == stepID {
		r.faultStepID = ""
	}
}

// replan re-enters the planning loop after an operator REPLAN decision. A
// valid new plan discards the abandoned attempt's skip-set and trace.
func (r *runState) replan(ctx context.Context) (bool, error) {
	plan, err := r.planLoop(ctx, nil)
	if err != nil {
		return false, err
	}
	if plan == nil {
		return false, nil
	}

	if verrs := r.validator.Validate(plan, r.registry); len(verrs) > 0 {
		r.emit(ctx, Notification{Kind: schema.EventPlanInvalid, RunID: r.runID, Errors: verrs})
		return false, nil
	}

	r.plan = plan
	r.skipped = make(map[string]bool)
	r.trace = nil
	r.emit(ctx, Notification{Kind: schema.EventPlanAccepted, RunID: r.runID, Plan: r.plan})
	r.log.InfoContext(ctx, "replanned", "plan_id", plan.ID, "steps", len(plan.Steps))
	return true, nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
