package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/chatngt/chatngt/internal/config"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	// Name identifies the provider in logs and errors (e.g. "groq").
	Name    string
	BaseURL string
	APIKey  string

	// Temperature is sent with every request. Zero means deterministic
	// sampling and is preserved on the wire.
	Temperature float64

	// HTTPClient overrides the transport. Nil uses go-openai's default.
	HTTPClient *http.Client
}

// OpenAIClient speaks the OpenAI chat completions protocol. Groq,
// OpenAI and any compatible endpoint are reached through it by
// changing BaseURL.
type OpenAIClient struct {
	name        string
	client      *openai.Client
	temperature float32
	logger      *slog.Logger
}

// NewOpenAIClient creates a client for one OpenAI-compatible provider.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	return &OpenAIClient{
		name:        name,
		client:      openai.NewClientWithConfig(oc),
		temperature: float32(cfg.Temperature),
		logger:      logger.With("provider", name),
	}
}

// Chat sends one non-streaming completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: c.temperature,
	}
	// go-openai tags Temperature omitempty, so 0 would be dropped and the
	// provider default used instead. The smallest float32 still
	// serializes and samples greedily.
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}
	if len(tools) > 0 {
		defs, err := toOpenAITools(tools)
		if err != nil {
			return nil, err
		}
		req.Tools = defs
		req.ToolChoice = "auto"
	}

	if c.logger.Enabled(ctx, config.LevelTrace) {
		if payload, err := json.Marshal(req); err == nil {
			c.logger.Log(ctx, config.LevelTrace, "llm request", "payload", string(payload))
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%s: %s", c.name, apiErr.Message)
		}
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: response contained no choices", c.name)
	}

	if c.logger.Enabled(ctx, config.LevelTrace) {
		if payload, err := json.Marshal(resp); err == nil {
			c.logger.Log(ctx, config.LevelTrace, "llm response", "payload", string(payload))
		}
	}

	out := &ChatResponse{
		Model:        resp.Model,
		Message:      fromOpenAIMessage(resp.Choices[0].Message),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	c.logger.Debug("llm completion",
		"model", model,
		"tool_calls", len(out.Message.ToolCalls),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return out, nil
}

// Ping lists the provider's models, which requires a valid key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func fromOpenAIMessage(om openai.ChatCompletionMessage) Message {
	m := Message{
		Role:    om.Role,
		Content: om.Content,
	}
	if m.Role == "" {
		m.Role = RoleAssistant
	}
	for _, tc := range om.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		m.ToolCalls = append(m.ToolCalls, ToolCall{
			ID: id,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return m
}

// toOpenAITools converts generic tool definitions into the SDK's types.
// Both use the same JSON shape, so a round trip is enough.
func toOpenAITools(tools []map[string]any) ([]openai.Tool, error) {
	data, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("marshal tool definitions: %w", err)
	}
	var out []openai.Tool
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("convert tool definitions: %w", err)
	}
	return out, nil
}
