package planner

import (
	"context"

	"github.com/rendis/conductor/pkg/schema"
)

// Scripted is a deterministic planner for demos and tests. It asks one intake
// form while the conversation has no user message, then emits a fixed
// three-step plan. PlanFn, when set, replaces the fixed plan.
type Scripted struct {
	// PlanFn builds the plan once the user has replied. Nil means the
	// built-in clickup bootstrap plan.
	PlanFn func(in Input) *schema.Plan

	// FormTurns forces that many form turns before any plan, even after a
	// user reply. Zero keeps the default reply-gated behavior.
	FormTurns int

	turns int
}

func (s *Scripted) Next(_ context.Context, in Input) (*Output, error) {
	s.turns++

	if s.FormTurns > 0 {
		if s.turns <= s.FormTurns {
			return &Output{Form: s.intakeForm(in.Intent)}, nil
		}
	} else if !hasUserMessage(in.Conversation) {
		return &Output{Form: s.intakeForm(in.Intent)}, nil
	}

	if s.PlanFn != nil {
		return &Output{Plan: s.PlanFn(in)}, nil
	}
	return &Output{Plan: bootstrapPlan(in)}, nil
}

func hasUserMessage(conv []schema.Message) bool {
	for _, m := range conv {
		if m.Role == "user" {
			return true
		}
	}
	return false
}

func (s *Scripted) intakeForm(intent string) *schema.Message {
	return &schema.Message{
		Role: "assistant",
		Kind: schema.MessageForm,
		Text: "I need a bit more information to set this up correctly.",
		Fields: []schema.MessageField{
			{
				Key: "team_size", Label: "Team size", Type: "number",
				Required: true, Placeholder: "e.g. 5",
			},
			{
				Key: "priority", Label: "Overall priority", Type: "select",
				Required: true,
				Options: []schema.FieldOption{
					{ID: "low", Label: "Low"},
					{ID: "medium", Label: "Medium"},
					{ID: "high", Label: "High"},
				},
			},
			{
				Key: "notes", Label: "Additional context (optional)", Type: "textarea",
				Placeholder: "Any other details that would help planning...",
			},
		},
	}
}

// bootstrapPlan is the canned space/folder/list chain.
func bootstrapPlan(in Input) *schema.Plan {
	return &schema.Plan{
		ID:        "scripted-plan",
		ToolKey:   in.ToolKey,
		Objective: in.Intent,
		Steps: []schema.Step{
			{ID: "S1", OpID: "clickup.space.create", Params: map[string]any{"name": "Main Space"}},
			{ID: "S2", OpID: "clickup.folder.create", Params: map[string]any{"name": "Primary Folder"}, DependsOn: []string{"S1"}},
			{ID: "S3", OpID: "clickup.list.create", Params: map[string]any{"name": "Initial List"}, DependsOn: []string{"S2"}},
		},
	}
}
