package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/conductor/pkg/schema"
)

// MaxSteps is the plan step-count ceiling.
const MaxSteps = 5

// planSchemaJSON is the JSON Schema for Plan validation.
// Embedded as a constant to avoid filesystem dependencies.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://conductor.dev/schemas/plan.json",
  "type": "object",
  "required": ["plan_id", "tool_key", "objective", "steps"],
  "properties": {
    "plan_id": { "type": "string", "minLength": 1 },
    "tool_key": { "type": "string", "minLength": 1 },
    "objective": { "type": "string" },
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["step_id", "op_id", "params"],
      "properties": {
        "step_id": { "type": "string", "minLength": 1 },
        "op_id": { "type": "string", "minLength": 1 },
        "params": { "type": "object" },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        },
        "on_fail": {
          "type": "string",
          "enum": ["STOP", "SKIP_DEPENDENTS", "CONTINUE"]
        }
      },
      "additionalProperties": false
    }
  }
}`

// PlanValidator checks candidate plans against the plan schema, the step
// ceiling, an operation registry, and the dependency graph. It is a pure
// function of (plan, registry) and safe for concurrent use.
type PlanValidator struct {
	planSchema *jsonschema.Schema

	// mu guards the cache of compiled per-operation parameter schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewPlanValidator creates a PlanValidator with the plan schema pre-compiled.
func NewPlanValidator() (*PlanValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource("https://conductor.dev/schemas/plan.json", doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	compiled, err := c.Compile("https://conductor.dev/schemas/plan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &PlanValidator{
		planSchema: compiled,
		cache:      make(map[string]*jsonschema.Schema),
	}, nil
}

// Validate runs all checks and accumulates their errors — a later check runs
// even when an earlier one fails. An empty result means the plan is accepted.
func (v *PlanValidator) Validate(plan *schema.Plan, reg *schema.Registry) []schema.ValidationError {
	var errs []schema.ValidationError

	if plan == nil {
		return []schema.ValidationError{{
			Code:    schema.ErrCodeSchemaInvalid,
			Message: "plan is nil",
		}}
	}

	// 1. Structural check of the whole plan object.
	doc, err := toJSONValue(plan)
	if err != nil {
		errs = append(errs, schema.ValidationError{
			Code:    schema.ErrCodeSchemaInvalid,
			Message: fmt.Sprintf("plan is not serializable: %v", err),
		})
	} else if verr := v.planSchema.Validate(doc); verr != nil {
		for _, leaf := range leafViolations(verr) {
			errs = append(errs, schema.ValidationError{
				Code:    schema.ErrCodeSchemaInvalid,
				Message: leaf.message,
				Path:    leaf.path,
			})
		}
	}

	// 2. Step-count ceiling.
	if len(plan.Steps) > MaxSteps {
		errs = append(errs, schema.ValidationError{
			Code:    schema.ErrCodeLimitExceeded,
			Message: fmt.Sprintf("plan has %d steps; max is %d", len(plan.Steps), MaxSteps),
			Path:    "steps",
		})
	}

	// 3 + 4. Operation lookup and parameter schemas. An unknown operation
	// suppresses the parameter check for that step only.
	for i := range plan.Steps {
		step := &plan.Steps[i]

		var op *schema.Operation
		if reg != nil {
			op = reg.Operation(step.OpID)
		}
		if op == nil {
			errs = append(errs, schema.ValidationError{
				Code:    schema.ErrCodeUnknownOperation,
				Message: fmt.Sprintf("operation %q not found in registry", step.OpID),
				StepID:  step.ID,
				OpID:    step.OpID,
			})
			continue
		}

		if perr := v.validateParams(step.Params, op.InputSchema); perr != nil {
			errs = append(errs, schema.ValidationError{
				Code:    schema.ErrCodeInvalidParams,
				Message: perr.message,
				Path:    perr.path,
				StepID:  step.ID,
				OpID:    step.OpID,
			})
		}
	}

	// 5. Dependency graph.
	errs = append(errs, checkGraph(plan.Steps)...)

	return errs
}

// paramError carries one parameter-schema violation.
type paramError struct {
	path    string
	message string
}

// validateParams checks a step's params against an operation's declared
// schema. A missing or empty schema means no constraint.
func (v *PlanValidator) validateParams(params map[string]any, inputSchema map[string]any) *paramError {
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return &paramError{message: fmt.Sprintf("invalid operation schema: %v", err)}
	}

	if params == nil {
		params = map[string]any{}
	}
	doc, err := toJSONValue(params)
	if err != nil {
		return &paramError{message: fmt.Sprintf("params are not serializable: %v", err)}
	}

	verr := compiled.Validate(doc)
	if verr == nil {
		return nil
	}
	leaves := leafViolations(verr)
	if len(leaves) == 0 {
		return &paramError{message: verr.Error()}
	}
	// Report the first violation; one INVALID_PARAMS per step.
	return &paramError{path: leaves[0].path, message: leaves[0].message}
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *PlanValidator) getOrCompile(inputSchema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	key := string(raw)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each operation schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("conductor://op-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// violation is one leaf of a jsonschema error tree.
type violation struct {
	path    string
	message string
}

// leafViolations walks a ValidationError tree and collects leaf violations
// with their instance locations.
func leafViolations(err error) []violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []violation{{message: err.Error()}}
	}
	return collectLeaves(verr)
}

func collectLeaves(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		return []violation{{
			path:    strings.Join(verr.InstanceLocation, "/"),
			message: verr.Error(),
		}}
	}
	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectLeaves(cause)...)
	}
	return out
}

// toJSONValue round-trips a Go value through JSON encoding so numeric values
// become json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
