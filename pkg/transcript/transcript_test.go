package transcript

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nstogner/datachat/pkg/domain"
)

type captureSink struct {
	events []Event
}

func (c *captureSink) OnEvent(ctx context.Context, event Event) {
	c.events = append(c.events, event)
}

func messageEvent(content string) Event {
	m := domain.NewMessage(domain.Reasoner, content, domain.KindText)
	return Event{Type: EventMessage, SessionID: "s1", Message: &m}
}

func TestMultiForwardsCopies(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	multi := NewMulti(a, nil, b)

	ev := messageEvent("hello")
	multi.OnEvent(context.Background(), ev)

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("got %d and %d events, want 1 each", len(a.events), len(b.events))
	}
	a.events[0].Message.Content = "mutated"
	if b.events[0].Message.Content != "hello" || ev.Message.Content != "hello" {
		t.Error("sinks share message memory")
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	ev := messageEvent("x")
	ev.Annotations = []domain.Annotation{{Code: domain.AnnotationMalformedArtifact, Filename: "plot.png", Detail: "missing"}}
	sink.OnEvent(context.Background(), ev)
	sink.OnEvent(context.Background(), Event{Type: EventStop, SessionID: "s1", StopReason: "max turns"})

	out := buf.String()
	for _, want := range []string{"level=WARN", "Conversation message", "source=Reasoner", "annotation=missing", `reason="max turns"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestJSONLSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t", "events.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}
	ev := messageEvent("```python\nprint(1)\n```")
	ev.Message.Kind = domain.KindCode | domain.KindStopSignal
	sink.OnEvent(context.Background(), ev)
	sink.OnEvent(context.Background(), Event{Type: EventStop, SessionID: "s1", StopReason: "max turns"})
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := ReadJSONL(path)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if got := events[0].Message.Kind; got != domain.KindCode|domain.KindStopSignal {
		t.Errorf("Kind = %v", got)
	}
	if events[1].StopReason != "max turns" {
		t.Errorf("StopReason = %q", events[1].StopReason)
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(1)
	ch, cancel := b.Subscribe()

	b.OnEvent(context.Background(), messageEvent("first"))
	// Buffer is full; this one is dropped rather than blocking.
	b.OnEvent(context.Background(), messageEvent("second"))

	got := <-ch
	if got.Message.Content != "first" {
		t.Errorf("got %q, want first", got.Message.Content)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	// Publishing after unsubscribe must not panic.
	b.OnEvent(context.Background(), messageEvent("third"))
}

func TestReplay(t *testing.T) {
	state := domain.NewSessionState()
	state.Transcript = []domain.Message{
		domain.NewMessage(domain.User, "How many rows?", domain.KindText),
		domain.NewMessage(domain.Reasoner, "```python\nprint(1)\n```", domain.KindCode),
		domain.NewMessage(domain.Executor, "1", domain.KindObservation),
	}

	events := Replay(state)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != EventTask || events[1].Type != EventMessage || events[2].Type != EventMessage {
		t.Errorf("unexpected event types: %s %s %s", events[0].Type, events[1].Type, events[2].Type)
	}
	if events[1].Message.Content != state.Transcript[1].Content {
		t.Errorf("message mismatch: %q", events[1].Message.Content)
	}
	events[2].Message.Content = "changed"
	if state.Transcript[2].Content != "1" {
		t.Error("replayed events share memory with the state")
	}

	state.Terminated = true
	state.StopReason = "sentinel: TERMINATE mentioned"
	events = Replay(state)
	last := events[len(events)-1]
	if last.Type != EventStop || last.StopReason != state.StopReason {
		t.Errorf("expected stop event with reason, got %+v", last)
	}
}
