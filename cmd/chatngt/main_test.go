package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/chatngt/chatngt/internal/config"
	"github.com/chatngt/chatngt/internal/memory"
)

// isolate keeps run away from config files and credentials on the host.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("TAVILY_API_KEY", "")
	t.Setenv("BRAVE_API_KEY", "")
	t.Chdir(t.TempDir())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"version:", "go_version:", "os:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Errorf("version missing from %v", info)
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out, errOut bytes.Buffer
		if err := run(context.Background(), &out, &errOut, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: chatngt") {
			t.Errorf("run(%v) output = %q, want usage", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-verbose"}, "unknown flag: -verbose"},
		{"bad output format", []string{"-o", "xml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: chatngt ask"},
		{"missing config file", []string{"-config", "/nonexistent/chatngt.yaml", "ask", "hi"}, "config file not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			err := run(context.Background(), &out, &errOut, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestRun_AskRequiresKey(t *testing.T) {
	isolate(t)

	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"ask", "hello"})
	if err == nil {
		t.Fatal("expected error without GROQ_API_KEY")
	}
	if !strings.Contains(err.Error(), "GROQ_API_KEY") {
		t.Errorf("error = %q, want mention of GROQ_API_KEY", err)
	}
}

func TestRun_AskInvalidConfig(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "history:\n  backend: redis\n")

	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"-config", path, "ask", "hello"})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("error = %v, want invalid config", err)
	}
}

func TestRun_Ask(t *testing.T) {
	isolate(t)

	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Paris."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
		}`)
	}))
	defer srv.Close()

	path := writeConfig(t, `
llm:
  model: test-model
  providers:
    - name: fake
      base_url: `+srv.URL+`
      api_key: test-key
log_level: error
`)

	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"-config", path, "-env", "none.env", "ask", "capital", "of", "France?"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "Paris." {
		t.Errorf("stdout = %q, want %q", got, "Paris.")
	}
	if gotModel != "test-model" {
		t.Errorf("model = %q, want test-model", gotModel)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, path, err := loadConfig(options{envPath: ".env"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty for defaults", path)
	}
	if cfg.Listen.Port != config.DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Listen.Port, config.DefaultPort)
	}
	if cfg.LLM.Providers[0].APIKey != "gsk-test" {
		t.Errorf("api key = %q, want gsk-test", cfg.LLM.Providers[0].APIKey)
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	isolate(t)
	t.Setenv("CHATNGT_TEST_PORT", "")
	os.Unsetenv("CHATNGT_TEST_PORT")

	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("CHATNGT_TEST_PORT=4555\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CHATNGT_TEST_PORT") })
	cfgPath := writeConfig(t, "listen:\n  port: ${CHATNGT_TEST_PORT}\n")

	cfg, path, err := loadConfig(options{configPath: cfgPath, envPath: envPath})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != cfgPath {
		t.Errorf("path = %q, want %q", path, cfgPath)
	}
	if cfg.Listen.Port != 4555 {
		t.Errorf("port = %d, want 4555 from env file", cfg.Listen.Port)
	}
}

func TestCreateSearchManager(t *testing.T) {
	cfg := config.Default()
	if got := createSearchManager(cfg).Providers(); !reflect.DeepEqual(got, []string{"brave", "tavily"}) {
		t.Errorf("providers = %v", got)
	}

	cfg.Search.SearXNG.URL = "http://searx.local"
	cfg.Search.Provider = "searxng"
	mgr := createSearchManager(cfg)
	if got := mgr.Providers(); !reflect.DeepEqual(got, []string{"brave", "searxng", "tavily"}) {
		t.Errorf("providers = %v", got)
	}
	if mgr.Primary() != "searxng" {
		t.Errorf("primary = %q, want searxng", mgr.Primary())
	}
}

func TestCreateToolRegistry(t *testing.T) {
	reg := createToolRegistry(config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if got := reg.Names(); !reflect.DeepEqual(got, []string{"websearch"}) {
		t.Errorf("tools = %v, want [websearch]", got)
	}
}

func TestCreateToolRegistry_SearchLanguage(t *testing.T) {
	var lang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang = r.URL.Query().Get("language")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"Hit","url":"https://example.com"}]}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Search.Provider = "searxng"
	cfg.Search.SearXNG.URL = srv.URL
	cfg.Search.Language = "fr"

	reg := createToolRegistry(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out, err := reg.Execute(context.Background(), "websearch", `{"query":"météo"}`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !strings.Contains(out, "**Hit**") {
		t.Errorf("output = %q", out)
	}
	if lang != "fr" {
		t.Errorf("language = %q, want fr", lang)
	}
}

func TestCreateStore(t *testing.T) {
	cfg := config.Default()

	store, closeFn, err := createStore(cfg)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := store.(*memory.TTLStore); !ok {
		t.Errorf("store = %T, want *memory.TTLStore", store)
	}
	closeFn()

	cfg.History.Backend = "sqlite"
	cfg.History.Path = filepath.Join(t.TempDir(), "nested", "threads.db")
	store, closeFn, err = createStore(cfg)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	defer closeFn()
	if _, ok := store.(*memory.SQLiteStore); !ok {
		t.Errorf("store = %T, want *memory.SQLiteStore", store)
	}
	if _, ok := store.(memory.Sweeper); !ok {
		t.Error("sqlite store should support sweeping")
	}
}

func TestBuildApp_Usage(t *testing.T) {
	cfg := config.Default()
	cfg.Usage.Enabled = true
	cfg.Usage.Path = filepath.Join(t.TempDir(), "usage.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := buildApp(cfg, logger)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()

	if a.usage == nil {
		t.Fatal("usage store not opened")
	}
	if len(a.closers) != 2 {
		t.Errorf("closers = %d, want history and usage", len(a.closers))
	}
	if _, err := os.Stat(cfg.Usage.Path); err != nil {
		t.Errorf("usage database not created: %v", err)
	}
}

func TestWatchProviders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"test-model","object":"model"}]}`)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.LLM.Providers = []config.ProviderConfig{{Name: "fake", BaseURL: srv.URL, APIKey: "k"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch := watchProviders(ctx, logger, createLLMClient(cfg, logger), time.Hour)
	defer watch.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if watch.Status()["llm:fake"].Ready {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("provider never reported ready: %+v", watch.Status())
}
