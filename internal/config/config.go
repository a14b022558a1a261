// Package config loads and validates the runtime configuration from
// YAML, with environment variable expansion and defaults for every
// field a deployment may omit.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	LLM           LLMConfig           `yaml:"llm"`
	Agents        AgentsConfig        `yaml:"agents"`
	Epic          EpicConfig          `yaml:"epic"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig tunes the HTTP API.
type ServerConfig struct {
	Host string     `yaml:"host"`
	Port int        `yaml:"port"`
	Auth AuthConfig `yaml:"auth"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig controls bearer authentication on the API. With an empty
// secret the API runs open, which is only sensible for local use.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// Path is the sqlite database file. Ignored for memory.
	Path string `yaml:"path"`
}

// LLMConfig names the providers and which one runs by default.
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures one LLM backend.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// AgentsConfig tunes agent construction.
type AgentsConfig struct {
	// DefinitionsDir holds agent definition YAML files.
	DefinitionsDir string `yaml:"definitions_dir"`

	// DefaultAgent runs when a request names no agent.
	DefaultAgent string `yaml:"default_agent"`

	// WorkDir confines file and shell tools by default.
	WorkDir string `yaml:"work_dir"`

	// MaxSteps is the default step cap for definitions that set none.
	MaxSteps int `yaml:"max_steps"`

	// ContextWindowTokens sizes the prompt budget.
	ContextWindowTokens int `yaml:"context_window_tokens"`

	// ExactTokenCounts switches the budgeter to the tiktoken encoder.
	ExactTokenCounts bool `yaml:"exact_token_counts"`

	// Models maps roles (main, summary, reflection, classifier) to
	// model names used when a definition names none.
	Models map[string]string `yaml:"models"`

	// ShellRequiresApproval gates the shell tool behind approval.
	ShellRequiresApproval bool `yaml:"shell_requires_approval"`

	AutoEpic AutoEpicConfig `yaml:"auto_epic"`
	SubAgent SubAgentConfig `yaml:"sub_agent"`
}

// AutoEpicConfig controls classifier routing of missions to the epic
// orchestrator.
type AutoEpicConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// SubAgentConfig tunes delegation.
type SubAgentConfig struct {
	MaxDepth           int `yaml:"max_depth"`
	SummarizeThreshold int `yaml:"summarize_threshold"`
}

// EpicConfig tunes the orchestrator.
type EpicConfig struct {
	MaxRounds   int    `yaml:"max_rounds"`
	WorkerCount int    `yaml:"worker_count"`
	RunsDir     string `yaml:"runs_dir"`
}

// WorkflowConfig tunes the durable wait/resume runtime.
type WorkflowConfig struct {
	DedupWindow     time.Duration `yaml:"dedup_window"`
	MaxDedupEntries int           `yaml:"max_dedup_entries"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// RedactPatterns extends the default set of regular expressions
	// whose matches are masked in log output.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ObservabilityConfig tunes metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig exports OpenTelemetry spans over OTLP gRPC.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// DefaultConfig returns a configuration that runs locally without any
// file: in-memory storage, no auth, metrics off.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8420,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "maestro.db",
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			Providers: map[string]ProviderConfig{
				"anthropic": {APIKey: os.Getenv("ANTHROPIC_API_KEY")},
				"openai":    {APIKey: os.Getenv("OPENAI_API_KEY")},
			},
		},
		Agents: AgentsConfig{
			DefinitionsDir:      "agents",
			DefaultAgent:        "assistant",
			MaxSteps:            30,
			ContextWindowTokens: 100_000,
			AutoEpic: AutoEpicConfig{
				ConfidenceThreshold: 0.7,
			},
			SubAgent: SubAgentConfig{
				MaxDepth:           3,
				SummarizeThreshold: 4000,
			},
		},
		Epic: EpicConfig{
			MaxRounds:   3,
			WorkerCount: 3,
			RunsDir:     "epics",
		},
		Workflow: WorkflowConfig{
			DedupWindow:     time.Hour,
			MaxDedupEntries: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Addr: ":9420"},
			Tracing: TracingConfig{Endpoint: "localhost:4317", Insecure: true},
		},
	}
}

// Load reads path, expands ${ENV} references, and unmarshals over the
// defaults so partial files stay valid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.LLM.DefaultProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("default provider %q is not configured", c.LLM.DefaultProvider)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	if t := c.Agents.AutoEpic.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("auto_epic.confidence_threshold must be within [0, 1], got %v", t)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}

// Provider returns the configuration for the named provider, or the
// default one when name is empty.
func (c *Config) Provider(name string) (string, ProviderConfig, error) {
	if name == "" {
		name = c.LLM.DefaultProvider
	}
	pc, ok := c.LLM.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("provider %q is not configured", name)
	}
	return name, pc, nil
}
