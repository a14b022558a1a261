package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maestro.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
storage:
  driver: sqlite
  path: /tmp/maestro-test.db
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port override lost: %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/tmp/maestro-test.db" {
		t.Errorf("storage override lost: %+v", cfg.Storage)
	}
	// Untouched sections keep their defaults.
	if cfg.Epic.MaxRounds != 3 || cfg.Workflow.DedupWindow != time.Hour {
		t.Errorf("defaults lost: epic=%+v workflow=%+v", cfg.Epic, cfg.Workflow)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override lost: %q", cfg.Logging.Level)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("MAESTRO_TEST_KEY", "sk-test-123")
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${MAESTRO_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-test-123" {
		t.Errorf("env not expanded: %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.Path = " " }, "storage.path"},
		{"unknown default provider", func(c *Config) { c.LLM.DefaultProvider = "mistral" }, "not configured"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"bad threshold", func(c *Config) { c.Agents.AutoEpic.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestProviderLookup(t *testing.T) {
	cfg := DefaultConfig()

	name, _, err := cfg.Provider("")
	if err != nil || name != "anthropic" {
		t.Errorf("default lookup = %q, %v", name, err)
	}
	if _, _, err := cfg.Provider("mistral"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestJSONSchema(t *testing.T) {
	schema, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	for _, key := range []string{"server", "storage", "auto_epic", "dedup_window"} {
		if !strings.Contains(string(schema), key) {
			t.Errorf("schema missing %q", key)
		}
	}
}
