// Package executor runs validated plans against a tool backend and reports
// progress as an ordered event stream.
package executor

import (
	"context"

	"github.com/rendis/conductor/pkg/schema"
)

// Executor is the tool-side collaborator of a run. FetchState snapshots the
// tool's world before and after execution; ExecutePlan streams step events
// until the plan finishes, a step fails, or ctx is cancelled.
//
// The returned channel is closed by the executor. A STEP_FAILED event ends
// the stream for the failing plan; resumption is the orchestrator's business,
// via a fresh ExecutePlan call on a smaller plan.
type Executor interface {
	FetchState(ctx context.Context, toolKey string, userContext map[string]any) (map[string]any, error)
	ExecutePlan(ctx context.Context, toolKey string, plan *schema.Plan, userContext map[string]any, failStepID string) (<-chan schema.ExecEvent, error)
}
