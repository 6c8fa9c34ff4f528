package schema

// Plan is a dependency-ordered set of steps produced by a planner for one run.
type Plan struct {
	ID        string `json:"plan_id"`
	ToolKey   string `json:"tool_key"`
	Objective string `json:"objective"`
	Steps     []Step `json:"steps"`
}

// Step is one unit of work inside a plan. Params is an open key/value map;
// its shape is checked against the operation's declared schema at validation
// time, not here.
type Step struct {
	ID        string         `json:"step_id"`
	OpID      string         `json:"op_id"`
	Params    map[string]any `json:"params"`
	DependsOn []string       `json:"depends_on,omitempty"`
	OnFail    OnFailAction   `json:"on_fail,omitempty"`
}

// OnFailAction is the planner's declared on-failure policy for a step.
// Informational only: at runtime the decision protocol is authoritative.
type OnFailAction string

const (
	OnFailStop           OnFailAction = "STOP"
	OnFailSkipDependents OnFailAction = "SKIP_DEPENDENTS"
	OnFailContinue       OnFailAction = "CONTINUE"
)

// DependsOnSelf reports whether the step lists its own ID as a dependency.
func (s *Step) DependsOnSelf() bool {
	for _, dep := range s.DependsOn {
		if dep == s.ID {
			return true
		}
	}
	return false
}

// Step returns the step with the given ID, or nil if absent.
func (p *Plan) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}
