package llm

import "context"

// Client is implemented by every completion backend.
type Client interface {
	// Chat sends the conversation and tool definitions to model and
	// returns the assistant message. tools uses the OpenAI function
	// schema: {"type": "function", "function": {name, description, parameters}}.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks that the provider is reachable and accepts our credentials.
	Ping(ctx context.Context) error
}
