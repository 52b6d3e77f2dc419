package transcript

import (
	"context"
	"log/slog"
)

// Sink receives conversation events synchronously and in order. Each sink
// gets its own copy of the event.
type Sink interface {
	OnEvent(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) OnEvent(ctx context.Context, event Event) { f(ctx, event) }

// Discard drops all events.
type Discard struct{}

func (Discard) OnEvent(ctx context.Context, event Event) {}

// Multi fans events out to multiple sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a Multi that forwards events to all non-nil sinks.
func NewMulti(sinks ...Sink) *Multi {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &Multi{sinks: filtered}
}

func (m *Multi) OnEvent(ctx context.Context, event Event) {
	for _, s := range m.sinks {
		s.OnEvent(ctx, event.Clone())
	}
}

// SlogSink logs every event.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink. A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) OnEvent(ctx context.Context, event Event) {
	attrs := []slog.Attr{slog.String("sessionID", event.SessionID)}
	level := slog.LevelInfo
	switch event.Type {
	case EventTask, EventMessage:
		if m := event.Message; m != nil {
			attrs = append(attrs,
				slog.String("source", string(m.Source)),
				slog.String("kind", m.Kind.String()),
				slog.Int("length", len(m.Content)),
			)
			if m.ExitCode != nil {
				attrs = append(attrs, slog.Int("exitCode", *m.ExitCode))
			}
		}
		for _, a := range event.Artifacts {
			attrs = append(attrs, slog.String("artifact", a.Name))
		}
		if len(event.Annotations) > 0 {
			level = slog.LevelWarn
			for _, a := range event.Annotations {
				attrs = append(attrs, slog.String("annotation", a.Detail))
			}
		}
	case EventStop:
		attrs = append(attrs, slog.String("reason", event.StopReason))
	case EventError:
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", event.Error))
	}
	s.logger.LogAttrs(ctx, level, "Conversation "+string(event.Type), attrs...)
}
