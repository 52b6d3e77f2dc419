package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nstogner/datachat/pkg/config"
	"github.com/nstogner/datachat/pkg/model"
	"github.com/nstogner/datachat/pkg/model/gemini"
	"github.com/nstogner/datachat/pkg/model/openai"
	"github.com/nstogner/datachat/pkg/runner"
	"github.com/nstogner/datachat/pkg/sandbox"
	"github.com/nstogner/datachat/pkg/sandbox/docker"
	"github.com/nstogner/datachat/pkg/store"
	"github.com/nstogner/datachat/pkg/store/jsonl"
	"github.com/nstogner/datachat/pkg/store/memory"
	"github.com/nstogner/datachat/pkg/store/sqlite"
	"github.com/nstogner/datachat/pkg/transcript"
)

// eventsFile receives every transcript event when sessions are persisted.
const eventsFile = "events.jsonl"

// app holds the components shared by all commands.
type app struct {
	cfg      *config.Config
	provider model.Provider
	store    store.SessionStore
	runner   *runner.Runner

	closers []io.Closer
}

// loadConfig reads the config file and applies flag overrides.
func (c *CLI) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.Config != "" {
		cfg, err = config.LoadFile(c.Config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if c.Provider != "" && c.Provider != cfg.LLM.Provider {
		cfg.LLM.Provider = c.Provider
		// A model name belongs to one provider.
		if c.Model == "" && c.Provider == "openai" {
			cfg.LLM.Model = openai.DefaultModel
		} else if c.Model == "" {
			cfg.LLM.Model = ""
		}
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
	}
	if c.Store != "" {
		cfg.Store.Driver = c.Store
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the default slog text handler.
func setupLogging(cfg *config.Config, w io.Writer) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging initialized", "level", level)
	return nil
}

// newApp builds the provider, store and runner from the CLI flags. Logs go
// to logOut. Without withProvider the runner can list and load sessions but
// not answer questions.
func (c *CLI) newApp(ctx context.Context, logOut io.Writer, withProvider bool) (*app, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg, logOut); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if withProvider {
		if cfg.LLM.Provider == "gemini" && cfg.LLM.Model == "" {
			return nil, fmt.Errorf("llm.model must be set for the gemini provider")
		}
		a.provider, err = newProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	a.store, err = a.newStore(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	sinks := []transcript.Sink{transcript.NewSlogSink(nil)}
	if cfg.Store.Driver != "memory" {
		events, err := transcript.NewJSONLSink(filepath.Join(cfg.Store.Path, eventsFile))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, events)
		sinks = append(sinks, events)
	}

	a.runner = runner.New(runner.Options{
		Provider:    a.provider,
		Model:       cfg.LLM.Model,
		Store:       a.store,
		Sandbox:     dockerFactory(cfg),
		WorkDir:     cfg.Sandbox.WorkDir,
		DataMount:   docker.DataMount,
		MaxTurns:    cfg.Session.MaxTurns,
		MaxFailures: cfg.Session.MaxFailures,
		TurnTimeout: cfg.Session.TurnTimeout,
		Sentinel:    cfg.Session.Sentinel,
		Sink:        transcript.NewMulti(sinks...),
	})
	slog.Info("Datachat ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"store", cfg.Store.Driver,
		"dataDir", cfg.Sandbox.DataDir,
	)
	return a, nil
}

// Close releases the store and transcript files.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

func newProvider(ctx context.Context, cfg *config.Config) (model.Provider, error) {
	apiKey := cfg.GetAPIKey()
	switch cfg.LLM.Provider {
	case "gemini":
		if apiKey == "" {
			return nil, fmt.Errorf("%s is not set", keyEnv(cfg))
		}
		p, err := gemini.New(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		baseURL := cfg.GetBaseURL()
		if apiKey == "" && baseURL == "" {
			return nil, fmt.Errorf("%s is not set", keyEnv(cfg))
		}
		return openai.New(apiKey, baseURL), nil
	}
}

func keyEnv(cfg *config.Config) string {
	if cfg.LLM.APIKeyEnv != "" {
		return cfg.LLM.APIKeyEnv
	}
	return config.DefaultAPIKeyEnv(cfg.LLM.Provider)
}

func (a *app) newStore(cfg *config.Config) (store.SessionStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		if err := os.MkdirAll(cfg.Store.Path, 0755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
		s, err := sqlite.New(filepath.Join(cfg.Store.Path, "datachat.db"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	default:
		s, err := jsonl.New(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// dockerFactory creates one container backend per session.
func dockerFactory(cfg *config.Config) runner.SandboxFactory {
	return func(sessionID, workDir string) (sandbox.Backend, error) {
		b, err := docker.New(docker.Options{
			SessionID:  sessionID,
			Image:      cfg.Sandbox.Image,
			DataDir:    cfg.Sandbox.DataDir,
			WorkDir:    workDir,
			RunTimeout: cfg.Sandbox.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// listDatasets returns the visible files in the data directory.
func listDatasets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// checkDataset verifies that name is a file in the data directory.
func checkDataset(dir, name string) (string, error) {
	base := filepath.Base(name)
	if base != name || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("dataset must be a file name in %s, got %q", dir, name)
	}
	info, err := os.Stat(filepath.Join(dir, base))
	if err != nil {
		return "", fmt.Errorf("dataset %q: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("dataset %q is a directory", name)
	}
	return base, nil
}
