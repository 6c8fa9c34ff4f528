package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conductor/pkg/schema"
)

func testRegistry() *schema.Registry {
	nameSchema := map[string]any{
		"type":                 "object",
		"required":             []any{"name"},
		"properties":           map[string]any{"name": map[string]any{"type": "string"}},
		"additionalProperties": false,
	}
	return &schema.Registry{
		ToolKey: "clickup",
		Version: "1.0",
		Operations: []schema.Operation{
			{OpID: "clickup.space.create", InputSchema: nameSchema},
			{OpID: "clickup.folder.create", InputSchema: nameSchema},
			{OpID: "clickup.list.create", InputSchema: nameSchema},
		},
	}
}

func validPlan() *schema.Plan {
	return &schema.Plan{
		ID:        "p1",
		ToolKey:   "clickup",
		Objective: "set up workspace",
		Steps: []schema.Step{
			{ID: "S1", OpID: "clickup.space.create", Params: map[string]any{"name": "Space A"}},
			{ID: "S2", OpID: "clickup.folder.create", Params: map[string]any{"name": "Folder A"}, DependsOn: []string{"S1"}},
		},
	}
}

func newValidator(t *testing.T) *PlanValidator {
	t.Helper()
	v, err := NewPlanValidator()
	require.NoError(t, err)
	return v
}

func TestValidate_AcceptsValidPlan(t *testing.T) {
	v := newValidator(t)
	assert.Empty(t, v.Validate(validPlan(), testRegistry()))
}

func TestValidate_NilPlan(t *testing.T) {
	v := newValidator(t)
	errs := v.Validate(nil, testRegistry())
	require.Len(t, errs, 1)
	assert.Equal(t, schema.ErrCodeSchemaInvalid, errs[0].Code)
}

func TestValidate_SchemaViolation(t *testing.T) {
	v := newValidator(t)
	plan := validPlan()
	plan.ID = "" // plan_id requires minLength 1
	errs := v.Validate(plan, testRegistry())
	require.NotEmpty(t, errs)
	assert.Equal(t, schema.ErrCodeSchemaInvalid, errs[0].Code)
}

func TestValidate_StepCeiling(t *testing.T) {
	v := newValidator(t)
	plan := validPlan()
	plan.Steps = nil
	for i := 0; i < MaxSteps+1; i++ {
		plan.Steps = append(plan.Steps, schema.Step{
			ID:     string(rune('A' + i)),
			OpID:   "clickup.space.create",
			Params: map[string]any{"name": "x"},
		})
	}
	errs := v.Validate(plan, testRegistry())

	limit := 0
	for _, e := range errs {
		if e.Code == schema.ErrCodeLimitExceeded {
			limit++
		}
	}
	assert.Equal(t, 1, limit, "exactly one LIMIT_EXCEEDED regardless of other validity")
}

func TestValidate_UnknownOperationSuppressesParamCheck(t *testing.T) {
	v := newValidator(t)
	plan := validPlan()
	plan.Steps[0].OpID = "clickup.unknown"
	plan.Steps[0].Params = map[string]any{} // would fail the param schema

	errs := v.Validate(plan, testRegistry())
	require.Len(t, errs, 1)
	assert.Equal(t, schema.ErrCodeUnknownOperation, errs[0].Code)
	assert.Equal(t, "S1", errs[0].StepID)
}

func TestValidate_InvalidParams(t *testing.T) {
	v := newValidator(t)
	plan := validPlan()
	plan.Steps[1].Params = map[string]any{} // missing required "name"

	errs := v.Validate(plan, testRegistry())
	require.Len(t, errs, 1)
	assert.Equal(t, schema.ErrCodeInvalidParams, errs[0].Code)
	assert.Equal(t, "S2", errs[0].StepID)
	assert.Equal(t, "clickup.folder.create", errs[0].OpID)
}

func TestValidate_ErrorsAccumulate(t *testing.T) {
	v := newValidator(t)
	plan := &schema.Plan{
		ID:        "p2",
		ToolKey:   "clickup",
		Objective: "bad plan",
		Steps: []schema.Step{
			{ID: "S1", OpID: "clickup.unknown", Params: map[string]any{}, DependsOn: []string{"S2"}},
			{ID: "S2", OpID: "clickup.space.create", Params: map[string]any{}, DependsOn: []string{"S1"}},
		},
	}
	errs := v.Validate(plan, testRegistry())

	codes := make(map[string]int)
	for _, e := range errs {
		codes[e.Code]++
	}
	assert.Equal(t, 1, codes[schema.ErrCodeUnknownOperation], "S1 op unknown")
	assert.Equal(t, 1, codes[schema.ErrCodeInvalidParams], "S2 params invalid")
	assert.Equal(t, 1, codes[schema.ErrCodeInvalidDependency], "one cycle error")
}

func TestValidate_CycleBeforeExecution(t *testing.T) {
	v := newValidator(t)
	plan := validPlan()
	plan.Steps[0].DependsOn = []string{"S2"}

	errs := v.Validate(plan, testRegistry())
	require.Len(t, errs, 1)
	assert.Equal(t, schema.ErrCodeInvalidDependency, errs[0].Code)
	assert.Contains(t, errs[0].Message, "cycle")
}

func TestValidate_Idempotent(t *testing.T) {
	v := newValidator(t)
	plan := validPlan()
	plan.Steps[0].OpID = "clickup.unknown"
	plan.Steps[1].DependsOn = []string{"ghost"}

	first := v.Validate(plan, testRegistry())
	second := v.Validate(plan, testRegistry())
	assert.Equal(t, first, second)
}

func TestValidate_NoRegistryParamSchema(t *testing.T) {
	// An operation without a declared schema accepts any params.
	v := newValidator(t)
	reg := &schema.Registry{
		ToolKey:    "generic",
		Operations: []schema.Operation{{OpID: "generic.noop"}},
	}
	plan := &schema.Plan{
		ID:        "p3",
		ToolKey:   "generic",
		Objective: "anything",
		Steps: []schema.Step{
			{ID: "S1", OpID: "generic.noop", Params: map[string]any{"whatever": 42}},
		},
	}
	assert.Empty(t, v.Validate(plan, reg))
}
