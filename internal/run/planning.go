package run

import (
	"context"
	"fmt"

	"github.com/rendis/conductor/internal/planner"
	"github.com/rendis/conductor/pkg/schema"
)

const (
	// PlanningTurnBudget bounds how many planner turns a run spends before
	// giving up, information-request turns included.
	PlanningTurnBudget = 10

	// CorrectionBudget bounds how many invalid plans the planner may emit
	// after validation feedback before the run fails.
	CorrectionBudget = 3
)

// planAndValidate drives the planning loop and the correction sub-loop until
// a plan passes validation. A non-nil *RunResult is a terminal FAILED
// outcome (timeout or unconverged correction); err carries collaborator
// failures only.
func (r *runState) planAndValidate(ctx context.Context) (*schema.Plan, *schema.RunResult, error) {
	plan, err := r.planLoop(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		return nil, r.planningTimeout(), nil
	}

	verrs := r.validator.Validate(plan, r.registry)
	attempts := 0
	for len(verrs) > 0 && attempts < CorrectionBudget {
		r.emit(ctx, Notification{Kind: schema.EventPlanInvalid, RunID: r.runID, Errors: verrs})
		r.log.WarnContext(ctx, "plan rejected", "plan_id", plan.ID, "errors", len(verrs), "attempt", attempts+1)

		out, err := r.plannerTurn(ctx, verrs)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case out.Form != nil:
			// Information requests do not consume correction attempts.
			if err := r.surfaceForm(ctx, out.Form); err != nil {
				return nil, nil, err
			}
			continue
		case out.Plan != nil:
			plan = out.Plan
			verrs = r.validator.Validate(plan, r.registry)
			attempts++
		default:
			// Planner gave up on correcting; fail with the standing errors.
			attempts = CorrectionBudget
		}
	}

	if len(verrs) > 0 {
		envs := make([]schema.Envelope, len(verrs))
		for i, v := range verrs {
			envs[i] = v.Envelope()
		}
		return nil, r.result(schema.RunFailed, envs), nil
	}
	return plan, nil, nil
}

// planLoop runs up to PlanningTurnBudget planner turns and returns the first
// plan produced, or nil when the budget runs out.
func (r *runState) planLoop(ctx context.Context, verrs []schema.ValidationError) (*schema.Plan, error) {
	for turn := 0; turn < PlanningTurnBudget; turn++ {
		out, err := r.plannerTurn(ctx, verrs)
		if err != nil {
			return nil, err
		}

		switch {
		case out.Form != nil:
			if err := r.surfaceForm(ctx, out.Form); err != nil {
				return nil, err
			}
		case out.Plan != nil:
			return out.Plan, nil
		default:
			// Misbehaving planner: burn the turn so the budget still bounds
			// the loop.
			r.emit(ctx, Notification{
				Kind:  schema.EventDebug,
				RunID: r.runID,
				Text:  "planner produced neither a form nor a plan",
			})
		}
	}
	return nil, nil
}

// plannerTurn invokes the planner with the run's current snapshot.
func (r *runState) plannerTurn(ctx context.Context, verrs []schema.ValidationError) (*planner.Output, error) {
	out, err := r.orc.Planner.Next(ctx, planner.Input{
		ToolKey:          r.req.ToolKey,
		Intent:           r.req.Intent,
		Registry:         r.registry,
		PreState:         r.preState,
		Conversation:     r.conversation,
		ValidationErrors: verrs,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &planner.Output{}
	}
	return out, nil
}

// surfaceForm sends an information request to the user, blocks on the reply,
// and appends the reply to the conversation.
func (r *runState) surfaceForm(ctx context.Context, form *schema.Message) error {
	r.emit(ctx, Notification{Kind: schema.EventPlannerMessage, RunID: r.runID, Form: form})

	reply, err := r.boxes.UserMessages.Take(ctx)
	if err != nil {
		return err
	}
	r.conversation = append(r.conversation, reply)
	return nil
}

func (r *runState) planningTimeout() *schema.RunResult {
	return r.result(schema.RunFailed, []schema.Envelope{{
		Code:     schema.ErrCodePlanningTimeout,
		Message:  fmt.Sprintf("planning ended without a plan after %d turns", PlanningTurnBudget),
		Source:   schema.SourcePlanner,
		Severity: schema.SeverityRun,
	}})
}
