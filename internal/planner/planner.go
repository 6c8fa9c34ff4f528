// Package planner turns a run's intent and conversation into either an
// information-request form or a candidate plan. The orchestrator calls the
// planner once per planning turn; the planner never mutates the conversation.
package planner

import (
	"context"

	"github.com/rendis/conductor/pkg/schema"
)

// Input is everything a planner sees on one turn.
type Input struct {
	ToolKey          string
	Intent           string
	Registry         *schema.Registry
	PreState         map[string]any
	Conversation     []schema.Message
	ValidationErrors []schema.ValidationError
}

// Output is one planner turn result. Exactly one of Form or Plan is set on a
// well-formed turn; both nil means the planner produced nothing usable and
// the orchestrator records the turn as a no-op.
type Output struct {
	Form *schema.Message
	Plan *schema.Plan
}

// Planner produces the next planning turn. Implementations return a
// *schema.RunError for infrastructure failures (backend unreachable, bad
// output after retries); those abort the run rather than consume turns.
type Planner interface {
	Next(ctx context.Context, in Input) (*Output, error)
}
