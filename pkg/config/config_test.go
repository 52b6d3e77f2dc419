package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Session.MaxTurns != 20 {
		t.Errorf("expected max_turns 20, got %d", cfg.Session.MaxTurns)
	}
	if cfg.Session.MaxFailures != 3 {
		t.Errorf("expected max_failures 3, got %d", cfg.Session.MaxFailures)
	}
	if cfg.Session.TurnTimeout != 0 {
		t.Errorf("expected no turn timeout, got %s", cfg.Session.TurnTimeout)
	}
	if cfg.Sandbox.Image != "amancevice/pandas:2.2.2" {
		t.Errorf("unexpected image %s", cfg.Sandbox.Image)
	}
}

func TestConfig_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "datachat.toml")
	os.WriteFile(configPath, []byte(`
[llm]
provider = "gemini"
model = "gemini-2.0-flash"

[sandbox]
data_dir = "/srv/data"
timeout = "2m"

[session]
max_turns = 10
turn_timeout = "90s"

[store]
driver = "sqlite"
path = "sessions.db"

[log]
level = "debug"
`), 0644)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.Sandbox.DataDir != "/srv/data" || cfg.Sandbox.Timeout != 2*time.Minute {
		t.Errorf("unexpected sandbox config %+v", cfg.Sandbox)
	}
	// Unset keys keep their defaults.
	if cfg.Sandbox.WorkDir != "temp" {
		t.Errorf("expected default work_dir, got %s", cfg.Sandbox.WorkDir)
	}
	if cfg.Session.MaxTurns != 10 || cfg.Session.TurnTimeout != 90*time.Second || cfg.Session.Sentinel != "TERMINATE" {
		t.Errorf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Store.Driver)
	}
}

func TestConfig_Invalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "datachat.toml")
	os.WriteFile(configPath, []byte(`
[store]
driver = "postgres"
`), 0644)

	if _, err := LoadFile(configPath); err == nil {
		t.Error("expected error for unknown store driver")
	}
}

func TestConfig_LoadDefaultWithoutFile(t *testing.T) {
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(t.TempDir())

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Store.Driver != "jsonl" {
		t.Errorf("expected defaults, got driver %s", cfg.Store.Driver)
	}
}

func TestConfig_APIKeyAndBaseURL(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")

	cfg := New()
	if got := cfg.GetAPIKey(); got != "sk-test" {
		t.Errorf("GetAPIKey() = %q", got)
	}
	if got := cfg.GetBaseURL(); got != "http://localhost:11434/v1" {
		t.Errorf("GetBaseURL() = %q", got)
	}

	cfg.LLM.Provider = "gemini"
	if got := cfg.GetBaseURL(); got != "" {
		t.Errorf("gemini should not pick up OPENAI_BASE_URL, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace": LevelTrace,
		"DEBUG": slog.LevelDebug,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
