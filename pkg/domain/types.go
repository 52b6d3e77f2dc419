package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is a set of message kind flags. STOP_SIGNAL combines with TEXT or CODE.
type Kind uint8

const (
	KindText Kind = 1 << iota
	KindCode
	KindObservation
	KindStopSignal
)

var kindNames = []struct {
	kind Kind
	name string
}{
	{KindText, "text"},
	{KindCode, "code"},
	{KindObservation, "observation"},
	{KindStopSignal, "stop_signal"},
}

// Has reports whether all flags in f are set.
func (k Kind) Has(f Kind) bool { return f != 0 && k&f == f }

func (k Kind) String() string {
	var parts []string
	for _, kn := range kindNames {
		if k.Has(kn.kind) {
			parts = append(parts, kn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseKind parses the form produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	var k Kind
	if s == "" {
		return 0, nil
	}
	for _, part := range strings.Split(s, "|") {
		found := false
		for _, kn := range kindNames {
			if kn.name == part {
				k |= kn.kind
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown message kind %q", part)
		}
	}
	return k, nil
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Message is a single transcript entry. Messages are never modified after
// they are appended.
type Message struct {
	ID        string        `json:"id"`
	Source    ParticipantID `json:"source"`
	Content   string        `json:"content"`
	Kind      Kind          `json:"kind"`
	ExitCode  *int          `json:"exit_code,omitempty"` // Set on sandbox observations.
	Timestamp time.Time     `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(source ParticipantID, content string, kind Kind) Message {
	return Message{
		ID:        uuid.New().String(),
		Source:    source,
		Content:   content,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// Artifact is a file produced inside the sandbox and found in the shared
// work directory.
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// AnnotationCode classifies a non-fatal annotation attached to an emitted message.
type AnnotationCode string

const (
	AnnotationMalformedArtifact AnnotationCode = "malformed_artifact_reference"
)

// Annotation is a warning attached to a message when it is emitted. It never
// changes the transcript.
type Annotation struct {
	Code     AnnotationCode `json:"code"`
	Filename string         `json:"filename,omitempty"`
	Detail   string         `json:"detail"`
}

// Err returns the annotation as an error wrapping the matching sentinel.
func (a Annotation) Err() error {
	switch a.Code {
	case AnnotationMalformedArtifact:
		return fmt.Errorf("%w: %s", ErrMalformedArtifactReference, a.Detail)
	default:
		return fmt.Errorf("%s: %s", a.Code, a.Detail)
	}
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}
