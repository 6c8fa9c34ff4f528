package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rendis/conductor/pkg/schema"
)

func TestScripted_FormUntilUserReplies(t *testing.T) {
	p := &Scripted{}
	in := Input{ToolKey: "clickup", Intent: "set up a workspace"}

	out, err := p.Next(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Form)
	assert.Nil(t, out.Plan)
	assert.Equal(t, schema.MessageForm, out.Form.Kind)
	assert.NotEmpty(t, out.Form.Fields)

	in.Conversation = []schema.Message{
		*out.Form,
		{Role: "user", Kind: schema.MessageText, Text: "team of 5, high priority"},
	}
	out, err = p.Next(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Plan)
	assert.Nil(t, out.Form)
	assert.Equal(t, "clickup", out.Plan.ToolKey)
	assert.Len(t, out.Plan.Steps, 3)
	assert.Equal(t, []string{"S1"}, out.Plan.Steps[1].DependsOn)
}

func TestScripted_FormTurnsOverride(t *testing.T) {
	p := &Scripted{FormTurns: 2}
	in := Input{
		ToolKey:      "clickup",
		Intent:       "anything",
		Conversation: []schema.Message{{Role: "user", Kind: schema.MessageText, Text: "hi"}},
	}

	for i := 0; i < 2; i++ {
		out, err := p.Next(context.Background(), in)
		require.NoError(t, err)
		assert.NotNil(t, out.Form, "turn %d", i)
	}
	out, err := p.Next(context.Background(), in)
	require.NoError(t, err)
	assert.NotNil(t, out.Plan)
}

func TestScripted_PlanFn(t *testing.T) {
	p := &Scripted{PlanFn: func(in Input) *schema.Plan {
		return &schema.Plan{ID: "custom", ToolKey: in.ToolKey, Objective: in.Intent}
	}}
	in := Input{
		ToolKey:      "clickup",
		Intent:       "custom run",
		Conversation: []schema.Message{{Role: "user", Kind: schema.MessageText}},
	}

	out, err := p.Next(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Plan)
	assert.Equal(t, "custom", out.Plan.ID)
}

// fakeModel returns canned responses in order, then repeats the last one.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.responses[i]}},
	}, nil
}

func (f *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestNewLLM_MissingAPIKey(t *testing.T) {
	_, err := NewLLM(LLMConfig{})
	var re *schema.RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, schema.ErrCodePlannerMissingAPIKey, re.Envelope.Code)
	assert.Equal(t, schema.SourcePlanner, re.Envelope.Source)
}

func TestLLM_ParsesFormOutput(t *testing.T) {
	p := &LLM{model: &fakeModel{responses: []string{
		`{"type":"form","text":"Need details.","fields":[{"key":"size","label":"Size","type":"number","required":true}]}`,
	}}}

	out, err := p.Next(context.Background(), Input{ToolKey: "clickup", Intent: "x"})
	require.NoError(t, err)
	require.NotNil(t, out.Form)
	assert.Equal(t, "Need details.", out.Form.Text)
	require.Len(t, out.Form.Fields, 1)
	assert.Equal(t, "size", out.Form.Fields[0].Key)
}

func TestLLM_ParsesPlanOutput_WithDefaults(t *testing.T) {
	p := &LLM{model: &fakeModel{responses: []string{
		`{"type":"plan","plan":{"steps":[{"step_id":"S1","op_id":"clickup.space.create"}]}}`,
	}}}

	out, err := p.Next(context.Background(), Input{ToolKey: "clickup", Intent: "bootstrap"})
	require.NoError(t, err)
	require.NotNil(t, out.Plan)
	assert.NotEmpty(t, out.Plan.ID, "missing plan_id is generated")
	assert.Equal(t, "clickup", out.Plan.ToolKey)
	assert.Equal(t, "bootstrap", out.Plan.Objective)
	require.Len(t, out.Plan.Steps, 1)
	assert.NotNil(t, out.Plan.Steps[0].Params, "missing params default to empty object")
}

func TestLLM_BareStepsArray(t *testing.T) {
	p := &LLM{model: &fakeModel{responses: []string{
		`{"type":"plan","steps":[{"step_id":"S1","op_id":"clickup.space.create","params":{}}]}`,
	}}}

	out, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	require.NoError(t, err)
	require.NotNil(t, out.Plan)
	assert.Len(t, out.Plan.Steps, 1)
}

func TestLLM_CorrectiveRetryOnBadOutput(t *testing.T) {
	model := &fakeModel{responses: []string{
		`not json at all`,
		`{"type":"form","text":"ok","fields":[{"key":"k","label":"L","type":"text"}]}`,
	}}
	p := &LLM{model: model}

	out, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	require.NoError(t, err)
	assert.NotNil(t, out.Form)
	assert.Equal(t, 2, model.calls)
}

func TestLLM_InvalidOutputAfterRetry(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"type":"wat"}`,
		`{"type":"form","fields":[]}`,
	}}
	p := &LLM{model: model}

	_, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	var re *schema.RunError
	require.ErrorAs(t, err, &re)
	// The first failure is reported, not the retry's.
	assert.Equal(t, schema.ErrCodePlannerInvalidOutput, re.Envelope.Code)
	assert.True(t, re.Envelope.Retryable)
	assert.Contains(t, re.Envelope.Message, "form or plan")
}

func TestLLM_BackendFailureNotRetried(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("connection refused")}}
	p := &LLM{model: model}

	_, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	var re *schema.RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, schema.ErrCodePlannerInitFailed, re.Envelope.Code)
	assert.Equal(t, 1, model.calls)
}

func TestLLM_StripsCodeFence(t *testing.T) {
	p := &LLM{model: &fakeModel{responses: []string{
		"```json\n{\"type\":\"form\",\"text\":\"hi\",\"fields\":[{\"key\":\"k\",\"label\":\"L\",\"type\":\"text\"}]}\n```",
	}}}

	out, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	require.NoError(t, err)
	assert.NotNil(t, out.Form)
}
