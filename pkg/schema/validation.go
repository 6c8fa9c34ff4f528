package schema

// ValidationError is a single problem found by the plan validator. A plan is
// accepted only when the validator returns an empty list — errors are never
// partially applied.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	StepID  string `json:"step_id,omitempty"`
	OpID    string `json:"op_id,omitempty"`
}

// Envelope converts the validation error into the run's error currency.
// Severity narrows to STEP when the error references a step.
func (v ValidationError) Envelope() Envelope {
	severity := SeverityRun
	if v.StepID != "" {
		severity = SeverityStep
	}
	return Envelope{
		Code:     v.Code,
		Message:  v.Message,
		Source:   SourcePlanner,
		Severity: severity,
		StepID:   v.StepID,
	}
}
