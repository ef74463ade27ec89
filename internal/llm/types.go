// Package llm talks to OpenAI-compatible chat completion services.
package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation as sent to and received from
// the completion service. It is also the unit persisted in thread
// history, hence the JSON tags.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool results only
	Name       string     `json:"name,omitempty"`         // tool name on tool results
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments. Arguments is
// the JSON text exactly as the model produced it; it may be malformed.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the assistant message produced by one completion
// request, plus usage accounting when the provider reports it.
type ChatResponse struct {
	Model   string
	Message Message

	InputTokens  int
	OutputTokens int
}

// HasToolCalls reports whether the model asked for any tool invocations.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}

// CloneMessages returns a deep copy of msgs. Histories handed between
// the store and the conversation loop are copied so that neither side
// can mutate the other's slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.ToolCalls != nil {
			out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}
