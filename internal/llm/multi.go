package llm

import (
	"context"
	"fmt"
	"maps"
)

// MultiClient routes requests to a provider based on the model name.
// Models with no explicit route go to the fallback.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback Client
}

// NewMultiClient creates a router whose unrouted models go to fallback.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client under a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel routes a model name to a registered provider.
func (m *MultiClient) AddModel(model, provider string) {
	m.models[model] = provider
}

// Providers returns the registered clients keyed by provider name.
func (m *MultiClient) Providers() map[string]Client {
	return maps.Clone(m.clients)
}

func (m *MultiClient) clientFor(model string) Client {
	if provider, ok := m.models[model]; ok {
		if client, ok := m.clients[provider]; ok {
			return client
		}
	}
	return m.fallback
}

// Chat forwards to the provider serving model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	client := m.clientFor(model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return client.Chat(ctx, model, messages, tools)
}

// Ping checks every registered provider and returns the first failure.
func (m *MultiClient) Ping(ctx context.Context) error {
	if len(m.clients) == 0 && m.fallback == nil {
		return fmt.Errorf("no providers configured")
	}
	if m.fallback != nil {
		if err := m.fallback.Ping(ctx); err != nil {
			return err
		}
	}
	for name, client := range m.clients {
		if client == m.fallback {
			continue
		}
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	return nil
}
