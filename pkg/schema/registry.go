package schema

// Registry catalogs the known operations for one target tool. Loaded once
// per run from a declarative JSON document and treated as read-only.
type Registry struct {
	ToolKey    string      `json:"tool_key"`
	Version    string      `json:"version,omitempty"`
	Operations []Operation `json:"operations"`
}

// Operation declares one invocable operation and the schema its step
// parameters must satisfy.
type Operation struct {
	OpID        string         `json:"op_id"`
	Title       string         `json:"title,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Operation returns the declaration for opID, or nil if unknown.
func (r *Registry) Operation(opID string) *Operation {
	for i := range r.Operations {
		if r.Operations[i].OpID == opID {
			return &r.Operations[i]
		}
	}
	return nil
}
