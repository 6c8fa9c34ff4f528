package schema

// RunResult is the immutable outcome of one run. Created once, at the end of
// a run — the caller is never left without one, even on failure.
type RunResult struct {
	RunID           string         `json:"run_id"`
	Status          RunStatus      `json:"status"`
	ToolKey         string         `json:"tool_key"`
	Intent          string         `json:"intent"`
	RegistryVersion string         `json:"registry_version,omitempty"`
	Plan            *Plan          `json:"plan,omitempty"`
	Conversation    []Message      `json:"conversation,omitempty"`
	Trace           []ExecEvent    `json:"execution_trace,omitempty"`
	Errors          []Envelope     `json:"errors,omitempty"`
	PreState        map[string]any `json:"pre_state,omitempty"`
	PostState       map[string]any `json:"post_state,omitempty"`
	ArchiveRef      string         `json:"archive_ref,omitempty"`
}
