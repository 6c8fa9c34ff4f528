package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rendis/conductor/pkg/schema"
)

const systemPrompt = `You are a planner. Return JSON only. Output must be either:
1) {"type":"form","text":"...","fields":[{"key":"<string>","label":"<string>","type":"text|number|select|textarea","required":true|false,"placeholder":"<string>","options":[{"id":"<string>","label":"<string>"}]}]}
2) {"type":"plan","plan":{"plan_id":"<string>","tool_key":"<string>","objective":"<string>","steps":[{"step_id":"S1","op_id":"<string>","params":{},"depends_on":[]}]}}
For plans: params must always be present (use {} if none). step_id like "S1","S2", depends_on as a list of step_ids.
Only use op_id values from the operation registry in the input.`

var formFieldTypes = map[string]bool{
	"text": true, "number": true, "select": true, "textarea": true,
}

// LLMConfig configures the OpenAI-compatible backend.
type LLMConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// LLM is a planner backed by an OpenAI-compatible chat model. One model call
// per turn; a malformed response gets one corrective retry before the turn
// fails with PLANNER_INVALID_OUTPUT.
type LLM struct {
	model llms.Model
}

// NewLLM builds the backend client. The API key is mandatory; model and base
// URL fall back to the provider defaults.
func NewLLM(cfg LLMConfig) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewRunError(schema.ErrCodePlannerMissingAPIKey,
			"planner API key is not configured", schema.SourcePlanner)
	}

	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, schema.NewRunErrorf(schema.ErrCodePlannerInitFailed,
			schema.SourcePlanner, "create planner backend: %v", err).WithCause(err)
	}
	return &LLM{model: model}, nil
}

func (l *LLM) Next(ctx context.Context, in Input) (*Output, error) {
	payload, err := json.Marshal(map[string]any{
		"tool_key":           in.ToolKey,
		"intent":             in.Intent,
		"conversation":       in.Conversation,
		"operation_registry": in.Registry,
		"pre_state":          in.PreState,
		"validation_errors":  in.ValidationErrors,
	})
	if err != nil {
		return nil, schema.NewRunErrorf(schema.ErrCodePlannerInvalidOutput,
			schema.SourcePlanner, "encode planner input: %v", err)
	}

	out, ferr := l.turn(ctx, in, string(payload), "")
	if ferr == nil {
		return out, nil
	}
	var re *schema.RunError
	if !errors.As(ferr, &re) || re.Envelope.Code != schema.ErrCodePlannerInvalidOutput {
		return nil, ferr
	}

	// One corrective retry for malformed output.
	corrective := fmt.Sprintf(
		"Previous output was invalid: %s. Ensure the output matches the required format exactly.",
		re.Envelope.Message)
	out, rerr := l.turn(ctx, in, string(payload), corrective)
	if rerr != nil {
		return nil, ferr
	}
	return out, nil
}

func (l *LLM) turn(ctx context.Context, in Input, payload, corrective string) (*Output, error) {
	system := systemPrompt
	if corrective != "" {
		system += "\n\nCORRECTIVE INSTRUCTION: " + corrective
	}

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(system)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(payload)}},
	}

	resp, err := l.model.GenerateContent(ctx, messages, llms.WithJSONMode())
	if err != nil {
		return nil, schema.NewRunErrorf(schema.ErrCodePlannerInitFailed,
			schema.SourcePlanner, "planner backend call failed: %v", err).
			WithRetryable().WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return nil, invalidOutput("planner backend returned no choices")
	}

	return parseTurn(in, resp.Choices[0].Content)
}

// rawTurn is the planner's wire output. Steps covers backends that emit a
// bare steps array instead of a plan object.
type rawTurn struct {
	Type   string                `json:"type"`
	Text   string                `json:"text"`
	Fields []schema.MessageField `json:"fields"`
	Plan   *schema.Plan          `json:"plan"`
	Steps  []schema.Step         `json:"steps"`
}

func parseTurn(in Input, content string) (*Output, error) {
	content = strings.TrimSpace(content)
	// Some backends fence JSON even in JSON mode.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw rawTurn
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, invalidOutput(fmt.Sprintf("planner returned invalid JSON: %v", err))
	}

	switch raw.Type {
	case "form":
		return parseForm(&raw)
	case "plan":
		return parsePlan(in, &raw)
	default:
		return nil, invalidOutput(fmt.Sprintf("planner output type must be form or plan, got %q", raw.Type))
	}
}

func parseForm(raw *rawTurn) (*Output, error) {
	if len(raw.Fields) == 0 {
		return nil, invalidOutput("planner form output must include at least one field")
	}
	for i, f := range raw.Fields {
		if f.Key == "" || f.Label == "" {
			return nil, invalidOutput(fmt.Sprintf("planner form field %d is missing key or label", i))
		}
		if !formFieldTypes[f.Type] {
			return nil, invalidOutput(fmt.Sprintf("planner form field %d has unsupported type %q", i, f.Type))
		}
	}

	text := strings.TrimSpace(raw.Text)
	if text == "" {
		text = "Please provide the following details."
	}
	return &Output{Form: &schema.Message{
		Role:   "assistant",
		Kind:   schema.MessageForm,
		Text:   text,
		Fields: raw.Fields,
	}}, nil
}

func parsePlan(in Input, raw *rawTurn) (*Output, error) {
	plan := raw.Plan
	if plan == nil && len(raw.Steps) > 0 {
		plan = &schema.Plan{Steps: raw.Steps}
	}
	if plan == nil {
		return nil, invalidOutput("planner plan output must include a plan object or a steps array")
	}

	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.ToolKey == "" {
		plan.ToolKey = in.ToolKey
	}
	if plan.Objective == "" {
		plan.Objective = in.Intent
	}
	for i := range plan.Steps {
		if plan.Steps[i].Params == nil {
			plan.Steps[i].Params = map[string]any{}
		}
	}
	return &Output{Plan: plan}, nil
}

func invalidOutput(msg string) *schema.RunError {
	return schema.NewRunError(schema.ErrCodePlannerInvalidOutput, msg, schema.SourcePlanner).
		WithRetryable()
}
