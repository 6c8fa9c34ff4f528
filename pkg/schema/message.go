package schema

// MessageKind classifies a conversation message.
type MessageKind string

const (
	MessageText       MessageKind = "text"
	MessageQuestion   MessageKind = "question"
	MessageChoiceKind MessageKind = "choice"
	MessageForm       MessageKind = "form"
	MessageStatus     MessageKind = "status"
)

// Message is one entry in a run's planning conversation. The conversation is
// append-only and owned by the orchestrator for the lifetime of one run.
type Message struct {
	Role     string          `json:"role"`
	Kind     MessageKind     `json:"type"`
	Text     string          `json:"text"`
	Fields   []MessageField  `json:"fields,omitempty"`
	Choices  []MessageChoice `json:"choices,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// MessageField describes one input of a planner information-request form.
type MessageField struct {
	Key         string        `json:"key"`
	Label       string        `json:"label"`
	Type        string        `json:"type"` // text, number, select, textarea
	Required    bool          `json:"required"`
	Placeholder string        `json:"placeholder,omitempty"`
	Options     []FieldOption `json:"options,omitempty"`
}

// FieldOption is one selectable value of a select-type form field.
type FieldOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MessageChoice is one option of a choice-type message.
type MessageChoice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}
