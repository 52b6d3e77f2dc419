// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the config file looked up in the current directory.
const DefaultFile = "datachat.toml"

// LevelTrace enables HTTP dumps of model traffic.
const LevelTrace = slog.Level(-8)

// Config represents the datachat configuration.
type Config struct {
	LLM     LLMConfig     `toml:"llm"`
	Sandbox SandboxConfig `toml:"sandbox"`
	Session SessionConfig `toml:"session"`
	Store   StoreConfig   `toml:"store"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
}

// LLMConfig contains reasoning backend settings.
type LLMConfig struct {
	Provider  string `toml:"provider"` // openai or gemini
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	BaseURL   string `toml:"base_url"`
}

// SandboxConfig contains code execution settings.
type SandboxConfig struct {
	Image   string        `toml:"image"`
	DataDir string        `toml:"data_dir"` // Host dir mounted at /mnt/data
	WorkDir string        `toml:"work_dir"` // Host dir for code files and artifacts
	Timeout time.Duration `toml:"timeout"`  // Per code run; zero means none
}

// SessionConfig contains conversation limits.
type SessionConfig struct {
	MaxTurns    int           `toml:"max_turns"`
	MaxFailures int           `toml:"max_failures"`
	TurnTimeout time.Duration `toml:"turn_timeout"`
	Sentinel    string        `toml:"sentinel"`
}

// StoreConfig contains session persistence settings.
type StoreConfig struct {
	Driver string `toml:"driver"` // memory, jsonl or sqlite
	Path   string `toml:"path"`
}

// ServerConfig contains HTTP front-end settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"` // trace, debug, info, warn, error
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "o3-mini",
		},
		Sandbox: SandboxConfig{
			Image:   "amancevice/pandas:2.2.2",
			DataDir: "data",
			WorkDir: "temp",
		},
		Session: SessionConfig{
			MaxTurns:    20,
			MaxFailures: 3,
			Sentinel:    "TERMINATE",
		},
		Store: StoreConfig{
			Driver: "jsonl",
			Path:   ".datachat",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadDefault loads datachat.toml from the current directory, falling back to
// defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return LoadFile(path)
}

// Validate checks enumerated values and bounds.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Store.Driver {
	case "memory", "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Session.MaxFailures < 0 {
		return fmt.Errorf("session.max_failures must not be negative")
	}
	if c.Session.Sentinel == "" {
		return fmt.Errorf("session.sentinel must not be empty")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// GetBaseURL returns the configured base URL, or OPENAI_BASE_URL for the
// openai provider.
func (c *Config) GetBaseURL() string {
	if c.LLM.BaseURL != "" || c.LLM.Provider != "openai" {
		return c.LLM.BaseURL
	}
	return os.Getenv("OPENAI_BASE_URL")
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
