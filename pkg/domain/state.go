package domain

import "github.com/google/uuid"

// SessionState is everything needed to resume a conversation after a process
// boundary. Only the scheduler mutates it.
//
// Turns counts the participant turns since the most recent seed task, and
// Cursor is always Turns modulo the number of participants.
type SessionState struct {
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset,omitempty"`
	Transcript []Message `json:"transcript"`
	Cursor     int       `json:"cursor"`
	Turns      int       `json:"turns"`
	Terminated bool      `json:"terminated"`
	StopReason string    `json:"stop_reason,omitempty"`
}

// NewSessionState returns an empty, non-terminated state with a fresh ID.
func NewSessionState() *SessionState {
	return &SessionState{ID: uuid.New().String()}
}

// Reset clears the terminal flag so a follow-up task can be run against the
// same transcript.
func (s *SessionState) Reset() {
	s.Terminated = false
	s.StopReason = ""
}

// Clone returns a deep copy of the state.
func (s *SessionState) Clone() *SessionState {
	c := *s
	c.Transcript = CloneTranscript(s.Transcript)
	return &c
}

// CloneTranscript copies a transcript so the copy can be handed out without
// exposing the original backing array.
func CloneTranscript(t []Message) []Message {
	if t == nil {
		return nil
	}
	out := make([]Message, len(t))
	for i, m := range t {
		if m.ExitCode != nil {
			code := *m.ExitCode
			m.ExitCode = &code
		}
		out[i] = m
	}
	return out
}

// PendingCode returns the most recent CODE message the Executor has not
// answered yet. The search stops at the Executor's last message and at the
// latest User seed, so code that already ran is never returned again.
func PendingCode(t []Message) (Message, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Source == Executor || t[i].Source == User {
			break
		}
		if t[i].Kind.Has(KindCode) {
			return t[i], true
		}
	}
	return Message{}, false
}

// TurnsSinceSeed counts messages after the most recent User message. With no
// User message every message counts as a turn.
func TurnsSinceSeed(t []Message) int {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Source == User {
			return len(t) - 1 - i
		}
	}
	return len(t)
}
