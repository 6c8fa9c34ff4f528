package streaming

import (
	"context"

	"github.com/rendis/conductor/pkg/schema"
)

// StreamEvent is a real-time notification emitted while a run progresses.
// Payload carries the kind-specific body: a planner message, a plan, an
// execution event, a decision request, or a run result.
type StreamEvent struct {
	RunID     string           `json:"run_id"`
	StepID    string           `json:"step_id,omitempty"`
	EventType schema.EventKind `json:"event_type"`
	Payload   any              `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string             `json:"run_id,omitempty"`
	EventTypes []schema.EventKind `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
