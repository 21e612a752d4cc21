// Package provider speaks the OpenAI-compatible chat-completions protocol
// with function calling. Only the base URL distinguishes a hosted API from
// a local ollama-style endpoint.
package provider

// ---------------------------------------------------------------------------
// Provider-agnostic tool types
// ---------------------------------------------------------------------------

// ToolSpec is a provider-agnostic tool definition, converted to the wire
// format on request.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]ToolProp
	Required    []string
}

// ToolProp describes a single tool input property.
type ToolProp struct {
	Type        string
	Description string
	Enum        []string
	// Items describes the element schema when Type is "array".
	Items *ToolProp
	// Properties describes nested object properties.
	Properties map[string]ToolProp
	// Required lists required fields when this prop describes an object.
	Required []string
}

// Usage contains token accounting for one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates usage across calls.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ---------------------------------------------------------------------------
// Conversation types
// ---------------------------------------------------------------------------

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant turns only
	ToolCallID string     // tool turns only
}

// ToolCall is a function invocation requested by the model. Arguments is
// the raw JSON object string as the model produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Response is the model's reply to one request.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string // "stop", "tool_calls", "length", ...
	Usage      Usage
}

// WantsTools reports whether the model asked for tool executions.
func (r Response) WantsTools() bool { return len(r.ToolCalls) > 0 }
