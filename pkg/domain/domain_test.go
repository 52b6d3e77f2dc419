package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindText, "text"},
		{KindCode, "code"},
		{KindObservation, "observation"},
		{KindCode | KindStopSignal, "code|stop_signal"},
		{0, ""},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
		parsed, err := ParseKind(tt.want)
		if err != nil {
			t.Errorf("ParseKind(%q): %v", tt.want, err)
		}
		if parsed != tt.kind {
			t.Errorf("ParseKind(%q) = %d, want %d", tt.want, parsed, tt.kind)
		}
	}

	if _, err := ParseKind("text|bogus"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestKindHas(t *testing.T) {
	k := KindText | KindStopSignal
	if !k.Has(KindText) || !k.Has(KindStopSignal) {
		t.Error("expected both flags set")
	}
	if k.Has(KindCode) {
		t.Error("did not expect code flag")
	}
	if k.Has(0) {
		t.Error("Has(0) must be false")
	}
}

func TestMessageJSON(t *testing.T) {
	code := 2
	m := NewMessage(Executor, "boom", KindObservation)
	m.ExitCode = &code

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw: %v", err)
	}
	if raw["kind"] != "observation" {
		t.Errorf("kind encoded as %v, want \"observation\"", raw["kind"])
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Kind != KindObservation || got.ExitCode == nil || *got.ExitCode != 2 {
		t.Errorf("unexpected message after decode: %+v", got)
	}
}

func TestTurnsSinceSeed(t *testing.T) {
	transcript := []Message{
		NewMessage(Reasoner, "orphan", KindText),
	}
	if got := TurnsSinceSeed(transcript); got != 1 {
		t.Errorf("no seed: got %d, want 1", got)
	}

	transcript = []Message{
		NewMessage(User, "q1", KindText),
		NewMessage(Reasoner, "a", KindCode),
		NewMessage(Executor, "b", KindObservation),
		NewMessage(User, "q2", KindText),
		NewMessage(Reasoner, "c", KindText),
	}
	if got := TurnsSinceSeed(transcript); got != 1 {
		t.Errorf("after follow-up: got %d, want 1", got)
	}
	if got := TurnsSinceSeed(transcript[:3]); got != 2 {
		t.Errorf("first task: got %d, want 2", got)
	}
}

func TestPendingCode(t *testing.T) {
	tests := []struct {
		name       string
		transcript []Message
		want       string
	}{
		{
			name: "unanswered code",
			transcript: []Message{
				NewMessage(User, "q", KindText),
				NewMessage(Reasoner, "first", KindCode),
				NewMessage(Executor, "out", KindObservation),
				NewMessage(Reasoner, "second", KindCode|KindStopSignal),
			},
			want: "second",
		},
		{
			name: "code already executed",
			transcript: []Message{
				NewMessage(User, "q", KindText),
				NewMessage(Reasoner, "first", KindCode),
				NewMessage(Executor, "out", KindObservation),
			},
		},
		{
			name: "text after executed code",
			transcript: []Message{
				NewMessage(User, "q", KindText),
				NewMessage(Reasoner, "first", KindCode),
				NewMessage(Executor, "out", KindObservation),
				NewMessage(Reasoner, "Which column do you mean?", KindText),
			},
		},
		{
			name: "follow-up question",
			transcript: []Message{
				NewMessage(User, "q1", KindText),
				NewMessage(Reasoner, "first", KindCode),
				NewMessage(User, "q2", KindText),
			},
		},
		{
			name: "reasoner error after code",
			transcript: []Message{
				NewMessage(User, "q", KindText),
				NewMessage(Reasoner, "first", KindCode),
				NewMessage(Reasoner, "error: timeout", KindObservation),
			},
			want: "first",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := PendingCode(tt.transcript)
			if tt.want == "" {
				if ok {
					t.Errorf("got %q, want no pending code", m.Content)
				}
				return
			}
			if !ok || m.Content != tt.want {
				t.Errorf("got %q, %v; want %q", m.Content, ok, tt.want)
			}
		})
	}
}

func TestStateClone(t *testing.T) {
	code := 0
	s := NewSessionState()
	s.Transcript = append(s.Transcript, NewMessage(Executor, "ok", KindObservation))
	s.Transcript[0].ExitCode = &code

	c := s.Clone()
	c.Transcript[0].Content = "changed"
	*c.Transcript[0].ExitCode = 9
	c.Transcript = append(c.Transcript, NewMessage(User, "more", KindText))

	if s.Transcript[0].Content != "ok" || *s.Transcript[0].ExitCode != 0 {
		t.Error("clone shares message memory with the original")
	}
	if len(s.Transcript) != 1 {
		t.Error("clone shares the transcript backing array")
	}
}

func TestStateReset(t *testing.T) {
	s := NewSessionState()
	s.Terminated = true
	s.StopReason = "max turns"
	s.Reset()
	if s.Terminated || s.StopReason != "" {
		t.Errorf("Reset left %+v", s)
	}
}

func TestAnnotationErr(t *testing.T) {
	a := Annotation{Code: AnnotationMalformedArtifact, Filename: "x.png", Detail: "x.png: not found"}
	if err := a.Err(); !errors.Is(err, ErrMalformedArtifactReference) {
		t.Errorf("expected ErrMalformedArtifactReference, got %v", err)
	}
}
