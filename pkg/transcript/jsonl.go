package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink appends each event as one JSON line to a file.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLSink opens (or creates) path for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating transcript dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening transcript file: %w", err)
	}
	return &JSONLSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) OnEvent(ctx context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		slog.Error("Failed to write transcript event", "path", s.file.Name(), "error", err)
	}
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReadJSONL reads back all events written by a JSONLSink.
func ReadJSONL(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return events, fmt.Errorf("decoding transcript event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}
