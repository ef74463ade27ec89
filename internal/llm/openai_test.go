package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		Name:    "groq",
		BaseURL: srv.URL,
		APIKey:  "gsk-test",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOpenAIClient_ChatToolCall(t *testing.T) {
	var got map[string]any
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer gsk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "llama-3.1-8b-instant",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "web_search", "arguments": "{\"query\":\"go 1.24\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`)
	})

	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "web_search",
			"description": "Search the web",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
	}}
	msgs := []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "what's new in go 1.24?"},
	}

	resp, err := client.Chat(context.Background(), "llama-3.1-8b-instant", msgs, tools)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	if got["model"] != "llama-3.1-8b-instant" {
		t.Errorf("request model = %v", got["model"])
	}
	if got["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v, want auto", got["tool_choice"])
	}
	if temp, ok := got["temperature"].(float64); !ok || temp <= 0 || temp > 1e-6 {
		t.Errorf("temperature = %v, want near-zero value on the wire", got["temperature"])
	}
	if sent, _ := got["tools"].([]any); len(sent) != 1 {
		t.Errorf("tools sent = %v, want 1", got["tools"])
	}
	if sent, _ := got["messages"].([]any); len(sent) != 2 {
		t.Errorf("messages sent = %d, want 2", len(sent))
	}

	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls in response")
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Function.Name != "web_search" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments != `{"query":"go 1.24"}` {
		t.Errorf("arguments = %q", tc.Function.Arguments)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d, want 42/7", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOpenAIClient_ChatReplaysToolMessages(t *testing.T) {
	var got struct {
		Messages []struct {
			Role       string `json:"role"`
			ToolCallID string `json:"tool_call_id"`
			Name       string `json:"name"`
			ToolCalls  []struct {
				ID string `json:"id"`
			} `json:"tool_calls"`
		} `json:"messages"`
		Tools []any `json:"tools"`
	}
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"done"}}]}`)
	})

	msgs := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Function: FunctionCall{Name: "web_search", Arguments: `{"query":"x"}`}}}},
		{Role: RoleTool, ToolCallID: "call_1", Name: "web_search", Content: "results"},
	}
	resp, err := client.Chat(context.Background(), "m", msgs, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Message.Content != "done" {
		t.Errorf("content = %q, want done", resp.Message.Content)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages sent = %d, want 3", len(got.Messages))
	}
	if len(got.Messages[1].ToolCalls) != 1 || got.Messages[1].ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant tool calls = %+v", got.Messages[1].ToolCalls)
	}
	if got.Messages[2].ToolCallID != "call_1" || got.Messages[2].Name != "web_search" {
		t.Errorf("tool message = %+v", got.Messages[2])
	}
	if len(got.Tools) != 0 {
		t.Errorf("tools sent = %d, want none", len(got.Tools))
	}
}

func TestOpenAIClient_Temperature(t *testing.T) {
	tests := []struct {
		name string
		set  float64
		want func(float64) bool
	}{
		{"zero is still sent", 0, func(v float64) bool { return v > 0 && v < 1e-30 }},
		{"configured", 0.7, func(v float64) bool { return v > 0.69 && v < 0.71 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&got)
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
			}))
			defer srv.Close()

			client := NewOpenAIClient(OpenAIConfig{
				Name:        "groq",
				BaseURL:     srv.URL,
				APIKey:      "gsk-test",
				Temperature: tt.set,
			}, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if _, err := client.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil); err != nil {
				t.Fatalf("Chat error: %v", err)
			}
			v, ok := got["temperature"].(float64)
			if !ok || !tt.want(v) {
				t.Errorf("temperature = %v (present %v)", got["temperature"], ok)
			}
		})
	}
}

func TestOpenAIClient_MissingToolCallID(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","tool_calls":[{"type":"function","function":{"name":"web_search","arguments":"{}"}}]}}]}`)
	})

	resp, err := client.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "q"}}, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if id := resp.Message.ToolCalls[0].ID; !strings.HasPrefix(id, "call_") || len(id) <= len("call_") {
		t.Errorf("generated tool call ID = %q", id)
	}
}

func TestOpenAIClient_APIError(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})

	_, err := client.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "q"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "groq: Invalid API Key" {
		t.Errorf("error = %q, want %q", err.Error(), "groq: Invalid API Key")
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[]}`)
	})

	if _, err := client.Chat(context.Background(), "m", nil, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIClient_Ping(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"llama-3.1-8b-instant","object":"model"}]}`)
	})

	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}

func TestCloneMessages(t *testing.T) {
	orig := []Message{{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a"}}}}
	cp := CloneMessages(orig)
	cp[0].ToolCalls[0].ID = "b"
	cp[0].Content = "changed"

	if orig[0].ToolCalls[0].ID != "a" || orig[0].Content != "" {
		t.Errorf("CloneMessages shares state with original: %+v", orig[0])
	}
	if CloneMessages(nil) != nil {
		t.Error("CloneMessages(nil) should be nil")
	}
}
