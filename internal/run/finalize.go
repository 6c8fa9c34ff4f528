package run

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/conductor/pkg/schema"
)

// finalize closes out a run that made it past planning: it captures the
// post-execution state, derives the terminal status, appends the run summary
// to the trace and hands the result to the archivist. Archive failures are
// reported but never fail the run.
func (r *runState) finalize(ctx context.Context) (*schema.RunResult, error) {
	post, err := r.orc.Executor.FetchState(ctx, r.req.ToolKey, r.req.UserContext)
	if err != nil {
		return nil, err
	}

	status := r.terminalStatus()

	skipped := make([]string, 0, len(r.skipped))
	for id := range r.skipped {
		skipped = append(skipped, id)
	}
	sort.Strings(skipped)

	summary := schema.ExecEvent{
		Kind:    schema.EventRunSummary,
		Message: fmt.Sprintf("Run completed with status %s", status),
		Output: map[string]any{
			"status":        string(status),
			"skipped_steps": skipped,
			"total_steps":   len(r.plan.Steps),
		},
		Timestamp: nowUTC(),
	}
	r.emit(ctx, Notification{Kind: schema.EventExec, RunID: r.runID, Event: &summary})
	r.trace = append(r.trace, summary)

	res := r.result(status, nil)
	res.PostState = post

	if r.orc.Archivist != nil {
		ref, err := r.orc.Archivist.StoreRun(ctx, res)
		if err != nil {
			r.log.WarnContext(ctx, "archive store failed", "error", err)
			r.emit(ctx, Notification{
				Kind:  schema.EventDebug,
				RunID: r.runID,
				Text:  fmt.Sprintf("Archivist skipped: %v", err),
			})
		} else {
			res.ArchiveRef = ref
		}
	}

	r.log.InfoContext(ctx, "run finished", "status", status, "trace_events", len(r.trace))
	return res, nil
}

func (r *runState) terminalStatus() schema.RunStatus {
	if r.aborted {
		return schema.RunCancelled
	}
	if len(r.skipped) > 0 {
		return schema.RunPartial
	}
	for _, ev := range r.trace {
		if ev.Kind == schema.EventStepFailed {
			return schema.RunPartial
		}
	}
	return schema.RunSuccess
}
