package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nstogner/datachat/pkg/config"
	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/runner"
	"github.com/nstogner/datachat/pkg/store/memory"
	"github.com/nstogner/datachat/pkg/transcript"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datachat.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
[llm]
provider = "openai"
model = "gpt-4o"

[store]
driver = "sqlite"
`)

	cli := &CLI{Config: path, Store: "memory", LogLevel: "debug"}
	cfg, err := cli.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("expected model from file, got %q", cfg.LLM.Model)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected store override, got %q", cfg.Store.Driver)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level override, got %q", cfg.Log.Level)
	}

	// Switching provider drops the other provider's model.
	cli = &CLI{Config: path, Provider: "gemini"}
	cfg, err = cli.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.Model != "" {
		t.Errorf("unexpected llm config: %+v", cfg.LLM)
	}

	cli = &CLI{Config: path, Provider: "gemini", Model: "gemini-2.0-flash"}
	cfg, err = cli.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("expected model override, got %q", cfg.LLM.Model)
	}

	cli = &CLI{Config: path, Store: "postgres"}
	if _, err := cli.loadConfig(); err == nil {
		t.Error("expected error for unknown store driver")
	}
}

func TestNewStoreDrivers(t *testing.T) {
	for _, driver := range []string{"memory", "jsonl", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.New()
			cfg.Store.Driver = driver
			cfg.Store.Path = t.TempDir()

			a := &app{cfg: cfg}
			s, err := a.newStore(cfg)
			if err != nil {
				t.Fatalf("newStore failed: %v", err)
			}
			defer a.Close()

			token, err := s.Save(context.Background(), domain.NewSessionState())
			if err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if _, err := s.Load(context.Background(), token); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
		})
	}
}

func TestDatasets(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.csv", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n1\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	names, err := listDatasets(dir)
	if err != nil {
		t.Fatalf("listDatasets failed: %v", err)
	}
	if strings.Join(names, ",") != "a.csv,b.csv" {
		t.Errorf("unexpected datasets: %v", names)
	}

	names, err = listDatasets(filepath.Join(dir, "missing"))
	if err != nil || len(names) != 0 {
		t.Errorf("expected no datasets for missing dir, got %v, %v", names, err)
	}

	if _, err := checkDataset(dir, "a.csv"); err != nil {
		t.Errorf("expected a.csv to be valid: %v", err)
	}
	for _, bad := range []string{"missing.csv", "sub", "../a.csv", ".hidden"} {
		if _, err := checkDataset(dir, bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestMessageMarkdown(t *testing.T) {
	code := 1
	obs := domain.NewMessage(domain.Executor, "Traceback\n", domain.KindObservation)
	obs.ExitCode = &code
	if got := messageMarkdown(obs); got != "```\nTraceback\n```" {
		t.Errorf("unexpected observation markdown: %q", got)
	}

	nothing := domain.NewMessage(domain.Executor, "nothing to execute", domain.KindObservation)
	if got := messageMarkdown(nothing); got != "nothing to execute" {
		t.Errorf("unexpected markdown: %q", got)
	}

	text := domain.NewMessage(domain.Reasoner, "**done**", domain.KindText)
	if got := messageMarkdown(text); got != "**done**" {
		t.Errorf("unexpected markdown: %q", got)
	}
}

func TestRenderEvent(t *testing.T) {
	r := newRenderer(80)

	m := domain.NewMessage(domain.Reasoner, "The answer is 42.\nGENERATED:plot.png", domain.KindText)
	out := r.Event(transcript.Event{
		Type:        transcript.EventMessage,
		Message:     &m,
		Artifacts:   []domain.Artifact{{Name: "plot.png", Path: "/tmp/plot.png"}},
		Annotations: []domain.Annotation{{Code: domain.AnnotationMalformedArtifact, Detail: "missing.png not found"}},
	})
	for _, want := range []string{"Reasoner:", "42", "Artifact: plot.png", "missing.png not found"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered event missing %q:\n%s", want, out)
		}
	}

	out = r.Event(transcript.Event{Type: transcript.EventStop, StopReason: "max turns"})
	if !strings.Contains(out, "Stopped: max turns") {
		t.Errorf("unexpected stop rendering: %q", out)
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := config.New()
	cfg.Sandbox.DataDir = t.TempDir()
	cfg.Store.Driver = "memory"

	a := &app{cfg: cfg, store: memory.New()}
	a.runner = runner.New(runner.Options{Store: a.store, WorkDir: t.TempDir()})
	return a
}

func press(t *testing.T, m chatModel, key tea.KeyType) (chatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: key})
	return next.(chatModel), cmd
}

func TestChatNewSessionFlow(t *testing.T) {
	a := newTestApp(t)
	if err := os.WriteFile(filepath.Join(a.cfg.Sandbox.DataDir, "sales.csv"), []byte("region,total\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := newChatModel(context.Background(), a)
	m, _ = press(t, m, tea.KeyEnter)
	if m.state != stateSelectingDataset {
		t.Fatalf("expected dataset selection, got state %d (err %v)", m.state, m.err)
	}
	if len(m.datasets) != 1 || m.datasets[0] != "sales.csv" {
		t.Fatalf("unexpected datasets: %v", m.datasets)
	}

	m, cmd := press(t, m, tea.KeyEnter)
	if cmd == nil {
		t.Fatal("expected a command creating the session")
	}
	msg, ok := cmd().(sessionMsg)
	if !ok {
		t.Fatalf("expected sessionMsg")
	}
	next, _ := m.Update(msg)
	m = next.(chatModel)
	if m.state != stateChatting || m.token == "" || m.dataset != "sales.csv" {
		t.Fatalf("expected chatting on sales.csv, got state %d token %q dataset %q", m.state, m.token, m.dataset)
	}

	sessions, err := a.runner.List(context.Background())
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one saved session, got %v, %v", sessions, err)
	}
}

func TestChatMenuWithoutData(t *testing.T) {
	a := newTestApp(t)
	m := newChatModel(context.Background(), a)

	m, _ = press(t, m, tea.KeyEnter)
	if m.state != stateMenu || m.err == nil {
		t.Errorf("expected error with empty data dir, got state %d err %v", m.state, m.err)
	}

	m.err = nil
	m, _ = press(t, m, tea.KeyDown)
	m, _ = press(t, m, tea.KeyEnter)
	if m.state != stateMenu || m.err == nil {
		t.Errorf("expected error without sessions, got state %d err %v", m.state, m.err)
	}
}

func TestChatReplaysSession(t *testing.T) {
	a := newTestApp(t)
	state := domain.NewSessionState()
	state.Dataset = "sales.csv"
	state.Transcript = []domain.Message{
		domain.NewMessage(domain.User, "How many rows?", domain.KindText),
		domain.NewMessage(domain.Reasoner, "There are 3 rows. TERMINATE", domain.KindText|domain.KindStopSignal),
	}
	state.Terminated = true
	state.StopReason = "sentinel: TERMINATE mentioned"

	m := newChatModel(context.Background(), a)
	m, _ = m.enterChat("tok", state)
	if len(m.events) != 3 {
		t.Fatalf("expected 2 messages and a stop event, got %d events", len(m.events))
	}
	if !strings.Contains(m.viewport.View(), "rows") {
		t.Errorf("expected transcript in viewport:\n%s", m.viewport.View())
	}

	// Events published to the session broadcaster reach the model.
	ev := transcript.Event{Type: transcript.EventError, SessionID: "tok", Error: "boom"}
	m.broadcaster.OnEvent(context.Background(), ev)
	msg := waitForEvent(m.updates)()
	next, _ := m.Update(msg)
	m = next.(chatModel)
	if len(m.events) != 4 || m.events[3].Error != "boom" {
		t.Errorf("expected broadcast event appended, got %d events", len(m.events))
	}
	m.unsubscribe()
}
