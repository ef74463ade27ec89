// Command chatngt is a web-search-augmented chat assistant. It serves a
// small HTTP API and browser client in front of an OpenAI-compatible
// completion service, letting the model call a web search tool.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/chatngt/chatngt/internal/agent"
	"github.com/chatngt/chatngt/internal/api"
	"github.com/chatngt/chatngt/internal/buildinfo"
	"github.com/chatngt/chatngt/internal/config"
	"github.com/chatngt/chatngt/internal/connwatch"
	"github.com/chatngt/chatngt/internal/httpkit"
	"github.com/chatngt/chatngt/internal/llm"
	"github.com/chatngt/chatngt/internal/memory"
	"github.com/chatngt/chatngt/internal/search"
	"github.com/chatngt/chatngt/internal/tools"
	"github.com/chatngt/chatngt/internal/usage"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	envPath    string
	outputFmt  string // "text" (default) or "json"
}

func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parsed by hand so run can be called concurrently from tests; the
	// flag package keeps its state in globals.
	opts := options{envPath: ".env"}
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-env" && i+1 < len(args):
			opts.envPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-env="):
			opts.envPath = strings.TrimPrefix(args[i], "-env=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, opts)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: chatngt ask <question>")
		}
		return runAsk(ctx, stdout, stderr, opts, cmdArgs)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "ChatNGT - web-search-augmented chat assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: chatngt [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve             Start the HTTP API and web client")
	fmt.Fprintln(w, "  ask <question>    Answer a single question and exit")
	fmt.Fprintln(w, "  init [dir]        Write an example config.yaml and .env")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -env <path>       Environment file to load (default: .env)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/chatngt/config.yaml, /etc/chatngt/config.yaml")
	fmt.Fprintln(w, "  Without a config file, defaults apply and keys come from GROQ_API_KEY")
	fmt.Fprintln(w, "  and TAVILY_API_KEY.")
	return nil
}

// runAsk answers one question on a throwaway thread. Logs go to stderr
// so stdout carries only the reply.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options, args []string) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.RequireLLMKey(); err != nil {
		return err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stderr, level, cfg.LogFormat)

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	question := strings.Join(args, " ")
	res := a.loop.Turn(ctx, "cli-"+uuid.NewString(), question)

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"message":    res.Reply,
			"outcome":    res.Outcome,
			"iterations": res.Iterations,
		})
	}
	fmt.Fprintln(stdout, res.Reply)
	return nil
}

// runServe loads configuration, starts the API server and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting ChatNGT", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.RequireLLMKey(); err != nil {
		return err
	}

	// The startup banner used Info/text; everything after follows config.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)

	if cfgPath == "" {
		cfgPath = "(defaults)"
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Model,
		"search", cfg.Search.Provider,
		"history", cfg.History.Backend,
	)
	if cfg.Search.Provider == "tavily" && cfg.Search.Tavily.APIKey == "" {
		logger.Warn("TAVILY_API_KEY is not set; web searches will report an error to the model")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if sw, ok := a.store.(memory.Sweeper); ok {
		go runSweeper(ctx, logger.With("component", "history"), sw, cfg.History.SweepInterval)
	}

	apiCfg := api.Config{
		Address:     cfg.Listen.Address,
		Port:        cfg.Listen.Port,
		RenderHTML:  cfg.API.RenderHTML,
		CORSOrigins: cfg.API.CORSOrigins,
		RateLimit: api.RateLimitConfig{
			Enabled: cfg.API.RateLimit.Enabled,
			RPS:     cfg.API.RateLimit.RPS,
			Burst:   cfg.API.RateLimit.Burst,
		},
	}
	if !cfg.Health.Disabled {
		watch := watchProviders(ctx, logger, a.llm, cfg.Health.PollInterval)
		defer watch.Stop()
		apiCfg.Health = watch
	}
	if a.usage != nil {
		apiCfg.Usage = a.usage
	}

	server := api.NewServer(logger.With("component", "api"), a.loop, apiCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig loads the env file, then the config file. A missing config
// file is not an error: defaults apply and the returned path is empty.
func loadConfig(opts options) (*config.Config, string, error) {
	if err := config.LoadEnvFile(opts.envPath); err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	cfgPath, err := config.FindConfig(opts.configPath)
	switch {
	case errors.Is(err, config.ErrNoConfig):
		cfg, cfgPath = config.Default(), ""
	case err != nil:
		return nil, "", err
	default:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}

// createLLMClient builds one OpenAI-compatible client per configured
// provider behind a router. The first provider serves unrouted models.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(cfg.LLM.Timeout),
		httpkit.WithResponseHeaderTimeout(cfg.LLM.Timeout),
	)

	multi := llm.NewMultiClient(nil)
	for i, p := range cfg.LLM.Providers {
		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			Name:        p.Name,
			BaseURL:     p.BaseURL,
			APIKey:      p.APIKey,
			Temperature: cfg.LLM.Temperature,
			HTTPClient:  httpClient,
		}, logger.With("component", "llm"))

		if i == 0 {
			multi = llm.NewMultiClient(client)
		}
		multi.AddProvider(p.Name, client)
		for _, m := range p.Models {
			multi.AddModel(m, p.Name)
		}
	}
	return multi
}

// watchProviders starts a reachability watcher per completion provider.
func watchProviders(ctx context.Context, logger *slog.Logger, multi *llm.MultiClient, every time.Duration) *connwatch.Manager {
	watch := connwatch.NewManager(logger.With("component", "connwatch"))
	for name, client := range multi.Providers() {
		watch.Watch(ctx, "llm:"+name, client.Ping, connwatch.Timing{PollInterval: every})
	}
	logger.Info("watching providers", "services", watch.Names(), "poll_interval", every)
	return watch
}

// createSearchManager registers every search backend that can be built
// from the config. Tavily and Brave are always registered so a missing
// key surfaces as a tool error rather than an unknown provider.
func createSearchManager(cfg *config.Config) *search.Manager {
	mgr := search.NewManager(cfg.Search.Provider)
	mgr.Register(search.NewTavily(cfg.Search.Tavily.APIKey, cfg.Search.Tavily.BaseURL, cfg.Search.Timeout))
	mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey, cfg.Search.Timeout))
	if cfg.Search.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL, cfg.Search.Timeout))
	}
	return mgr
}

func createToolRegistry(cfg *config.Config, logger *slog.Logger) *tools.Registry {
	reg := tools.NewRegistry()
	mgr := createSearchManager(cfg)
	// Registration into a fresh registry cannot collide.
	_ = reg.Register(&tools.Tool{
		Name:        search.ToolName,
		Description: search.ToolDescription,
		Parameters:  search.ToolDefinition(),
		Handler: search.ToolHandler(mgr, logger.With("component", "search"), search.Options{
			Count:    cfg.Search.MaxResults,
			Language: cfg.Search.Language,
		}),
	})
	logger.Debug("tools registered",
		"tools", reg.Names(),
		"search_primary", mgr.Primary(),
		"search_providers", mgr.Providers(),
	)
	return reg
}

// createStore opens the configured thread store. The returned func
// releases it.
func createStore(cfg *config.Config) (memory.Store, func() error, error) {
	switch cfg.History.Backend {
	case "sqlite":
		s, err := memory.NewSQLiteStore(cfg.History.Path, cfg.History.StoreTTL())
		if err != nil {
			return nil, nil, fmt.Errorf("open history database %s: %w", cfg.History.Path, err)
		}
		return s, s.Close, nil
	default:
		return memory.NewTTLStore(cfg.History.StoreTTL(), cfg.History.Capacity), func() error { return nil }, nil
	}
}

// app holds the long-lived components built from config.
type app struct {
	llm     *llm.MultiClient
	store   memory.Store
	usage   *usage.Store // nil unless usage.enabled
	loop    *agent.Loop
	closers []func() error
}

// buildApp assembles the conversation loop and its collaborators.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{llm: createLLMClient(cfg, logger)}

	store, closeStore, err := createStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	agentCfg := agent.Config{Model: cfg.LLM.Model, MaxIterations: cfg.Agent.MaxIterations}
	if cfg.Usage.Enabled {
		us, err := usage.NewStore(cfg.Usage.Path, cfg.Usage.Pricing)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open usage database %s: %w", cfg.Usage.Path, err)
		}
		a.usage = us
		a.closers = append(a.closers, us.Close)
		agentCfg.Usage = us
	}

	a.loop = agent.NewLoop(
		logger.With("component", "agent"),
		a.store,
		a.llm,
		createToolRegistry(cfg, logger),
		agentCfg,
	)
	return a, nil
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// runSweeper purges expired threads every interval until ctx ends.
func runSweeper(ctx context.Context, logger *slog.Logger, sw memory.Sweeper, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sw.CleanupExpired(ctx)
			if err != nil {
				logger.Warn("history sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired threads purged", "count", n)
			}
		}
	}
}
