package tools

import (
	"context"
	"errors"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its query",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			q, _ := args["query"].(string)
			return name + ":" + q, nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("web_search")); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	tests := []struct {
		name string
		tool *Tool
	}{
		{"duplicate", echoTool("web_search")},
		{"nil", nil},
		{"no name", &Tool{Handler: echoTool("x").Handler}},
		{"no handler", &Tool{Name: "bare"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.tool); err == nil {
				t.Error("Register() expected error")
			}
		})
	}

	if got := r.Names(); len(got) != 1 {
		t.Errorf("Names() = %v, want one tool", got)
	}
}

func TestRegistry_ListOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"web_search", "alpha", "zeta"} {
		if err := r.Register(echoTool(name)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	defs := r.List()
	if len(defs) != 3 {
		t.Fatalf("List() returned %d definitions, want 3", len(defs))
	}
	want := []string{"web_search", "alpha", "zeta"}
	for i, def := range defs {
		if def["type"] != "function" {
			t.Errorf("defs[%d].type = %v", i, def["type"])
		}
		fn := def["function"].(map[string]any)
		if fn["name"] != want[i] {
			t.Errorf("defs[%d].name = %v, want %s", i, fn["name"], want[i])
		}
		if fn["parameters"] == nil {
			t.Errorf("defs[%d] missing parameters", i)
		}
	}
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("web_search"))
	ctx := context.Background()

	got, err := r.Execute(ctx, "web_search", `{"query":"golang"}`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got != "web_search:golang" {
		t.Errorf("Execute = %q", got)
	}

	if got, err := r.Execute(ctx, "web_search", ""); err != nil || got != "web_search:" {
		t.Errorf("Execute with empty args = %q, %v", got, err)
	}

	_, err = r.Execute(ctx, "get_weather", `{}`)
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("Execute(unknown) error = %v, want *ErrToolUnavailable", err)
	}
	if err.Error() != "Unknown function: get_weather" {
		t.Errorf("error text = %q", err.Error())
	}

	_, err = r.Execute(ctx, "web_search", `{"query":`)
	var invalid *ErrInvalidArguments
	if !errors.As(err, &invalid) {
		t.Fatalf("Execute(bad json) error = %v, want *ErrInvalidArguments", err)
	}
	if invalid.ToolName != "web_search" || errors.Unwrap(err) == nil {
		t.Errorf("invalid arguments error = %+v", invalid)
	}
}
