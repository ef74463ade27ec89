// Package config handles ChatNGT configuration loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned by FindConfig when no explicit path was given
// and none of the default locations holds a config file. Callers treat
// it as "run on defaults".
var ErrNoConfig = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/chatngt/config.yaml, /etc/chatngt/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "chatngt", "config.yaml"))
	}

	paths = append(paths, "/etc/chatngt/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists,
// or ErrNoConfig.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", ErrNoConfig
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment. Variables that are already set are left alone. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Config holds all ChatNGT configuration.
type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	LLM       LLMConfig     `yaml:"llm"`
	Search    SearchConfig  `yaml:"search"`
	History   HistoryConfig `yaml:"history"`
	Agent     AgentConfig   `yaml:"agent"`
	API       APIConfig     `yaml:"api"`
	Usage     UsageConfig   `yaml:"usage"`
	Health    HealthConfig  `yaml:"health"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the completion service.
type LLMConfig struct {
	// Model is sent with every completion request. It is routed to the
	// provider that lists it under models, or to the first provider.
	Model       string           `yaml:"model"`
	Temperature float64          `yaml:"temperature"`
	Timeout     time.Duration    `yaml:"timeout"`
	Providers   []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one OpenAI-compatible completion endpoint.
type ProviderConfig struct {
	Name    string   `yaml:"name"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`
}

// Configured reports whether the provider has a credential.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

// SearchConfig defines the web search backend.
type SearchConfig struct {
	Provider   string        `yaml:"provider"` // tavily, brave, searxng
	MaxResults int           `yaml:"max_results"`
	Language   string        `yaml:"language"` // ISO 639-1 code; brave and searxng only
	Timeout    time.Duration `yaml:"timeout"`
	Tavily     TavilyConfig  `yaml:"tavily"`
	Brave      BraveConfig   `yaml:"brave"`
	SearXNG    SearXNGConfig `yaml:"searxng"`
}

// TavilyConfig holds configuration for the Tavily provider.
type TavilyConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// BraveConfig holds configuration for the Brave Search provider.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool {
	return c.APIKey != ""
}

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool {
	return c.URL != ""
}

// HistoryConfig defines where thread histories live and for how long.
type HistoryConfig struct {
	Backend string `yaml:"backend"` // memory or sqlite
	// TTL is how long an idle thread is kept. Zero means
	// DefaultHistoryTTL; any negative value keeps threads forever.
	TTL           time.Duration `yaml:"ttl"`
	Capacity      int           `yaml:"capacity"`       // memory backend only
	Path          string        `yaml:"path"`           // sqlite backend only
	SweepInterval time.Duration `yaml:"sweep_interval"` // expired-thread purge period
}

// StoreTTL returns the TTL handed to the history store, where zero
// means never expire.
func (h HistoryConfig) StoreTTL() time.Duration {
	if h.TTL < 0 {
		return 0
	}
	return h.TTL
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	RenderHTML  bool            `yaml:"render_html"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds chat requests per client address.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// UsageConfig enables per-turn token accounting.
type UsageConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Path    string                  `yaml:"path"`
	Pricing map[string]PricingEntry `yaml:"pricing"` // keyed by model
}

// PricingEntry is the USD price of a model per million tokens.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// HealthConfig tunes the background provider reachability checks
// reported on /health.
type HealthConfig struct {
	Disabled     bool          `yaml:"disabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Defaults used by applyDefaults.
const (
	DefaultPort          = 3001
	DefaultModel         = "llama-3.1-8b-instant"
	DefaultGroqBaseURL   = "https://api.groq.com/openai/v1"
	DefaultLLMTimeout    = 60 * time.Second
	DefaultSearchTimeout = 15 * time.Second
	DefaultMaxResults    = 5
	DefaultHistoryTTL    = 24 * time.Hour
	DefaultCapacity      = 10000
	DefaultSweepInterval = 10 * time.Minute
	DefaultMaxIterations = 5
	DefaultPollInterval  = 60 * time.Second
)

// providerKeyEnv maps well-known provider names to the environment
// variable holding their API key.
var providerKeyEnv = map[string]string{
	"groq":   "GROQ_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and unset fields are filled by
// applyDefaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns the configuration used when no config file exists:
// Groq for completions, Tavily for search, in-memory history.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values. Credentials that were left empty are
// taken from the conventional environment variables.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}

	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if len(c.LLM.Providers) == 0 {
		c.LLM.Providers = []ProviderConfig{{Name: "groq", BaseURL: DefaultGroqBaseURL}}
	}
	for i := range c.LLM.Providers {
		p := &c.LLM.Providers[i]
		if p.Name == "groq" && p.BaseURL == "" {
			p.BaseURL = DefaultGroqBaseURL
		}
		if p.APIKey == "" {
			if env, ok := providerKeyEnv[p.Name]; ok {
				p.APIKey = os.Getenv(env)
			}
		}
	}

	if c.Search.Provider == "" {
		c.Search.Provider = "tavily"
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = DefaultMaxResults
	}
	if c.Search.Timeout == 0 {
		c.Search.Timeout = DefaultSearchTimeout
	}
	if c.Search.Tavily.APIKey == "" {
		c.Search.Tavily.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	if c.Search.Brave.APIKey == "" {
		c.Search.Brave.APIKey = os.Getenv("BRAVE_API_KEY")
	}

	if c.History.Backend == "" {
		c.History.Backend = "memory"
	}
	if c.History.TTL == 0 {
		c.History.TTL = DefaultHistoryTTL
	}
	if c.History.Capacity == 0 {
		c.History.Capacity = DefaultCapacity
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join("data", "threads.db")
	}
	if c.History.SweepInterval == 0 {
		c.History.SweepInterval = DefaultSweepInterval
	}

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}

	if c.Usage.Path == "" {
		c.Usage.Path = filepath.Join("data", "usage.db")
	}
	if c.Health.PollInterval == 0 {
		c.Health.PollInterval = DefaultPollInterval
	}

	if len(c.API.CORSOrigins) == 0 {
		c.API.CORSOrigins = []string{"*"}
	}
	if c.API.RateLimit.Enabled {
		if c.API.RateLimit.RPS == 0 {
			c.API.RateLimit.RPS = 1
		}
		if c.API.RateLimit.Burst == 0 {
			c.API.RateLimit.Burst = 5
		}
	}
}

// Validate checks the configuration for values that would only fail
// later at runtime.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature %v out of range [0, 2]", c.LLM.Temperature)
	}
	seen := make(map[string]bool, len(c.LLM.Providers))
	for i, p := range c.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm.providers[%d]: name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("llm.providers[%d] (%s): base_url is required", i, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("llm.providers: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}

	switch c.Search.Provider {
	case "tavily", "brave":
	case "searxng":
		if !c.Search.SearXNG.Configured() {
			return fmt.Errorf("search.searxng.url is required when search.provider is searxng")
		}
	default:
		return fmt.Errorf("unknown search.provider %q (valid: tavily, brave, searxng)", c.Search.Provider)
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search.max_results must be positive")
	}

	switch c.History.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown history.backend %q (valid: memory, sqlite)", c.History.Backend)
	}
	if c.History.Capacity < 0 {
		return fmt.Errorf("history.capacity must not be negative")
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}

	if c.API.RateLimit.Enabled && (c.API.RateLimit.RPS <= 0 || c.API.RateLimit.Burst < 1) {
		return fmt.Errorf("api.rate_limit: rps and burst must be positive")
	}

	for model, p := range c.Usage.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return fmt.Errorf("usage.pricing[%s]: prices must not be negative", model)
		}
	}
	if c.Health.PollInterval < 0 {
		return fmt.Errorf("health.poll_interval must be positive")
	}

	return nil
}

// RequireLLMKey reports an error when the provider that serves the
// default model has no API key. Serving without one would fail every turn.
func (c *Config) RequireLLMKey() error {
	for _, p := range c.LLM.Providers {
		for _, m := range p.Models {
			if m == c.LLM.Model {
				if !p.Configured() {
					return fmt.Errorf("llm provider %q has no api_key (model %s)", p.Name, m)
				}
				return nil
			}
		}
	}
	if len(c.LLM.Providers) > 0 && !c.LLM.Providers[0].Configured() {
		name := c.LLM.Providers[0].Name
		if env, ok := providerKeyEnv[name]; ok {
			return fmt.Errorf("llm provider %q has no api_key (set %s)", name, env)
		}
		return fmt.Errorf("llm provider %q has no api_key", name)
	}
	return nil
}
