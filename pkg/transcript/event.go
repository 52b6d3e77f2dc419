// Package transcript carries conversation events from the scheduler to
// observers: loggers, files, live front-ends.
package transcript

import (
	"time"

	"github.com/nstogner/datachat/pkg/domain"
)

// EventType identifies what happened.
type EventType string

const (
	// EventTask is emitted when a task is seeded into the transcript.
	EventTask EventType = "task"
	// EventMessage is emitted for every message a participant produces.
	EventMessage EventType = "message"
	// EventStop is emitted once when termination is detected.
	EventStop EventType = "stop"
	// EventError is emitted when the session aborts.
	EventError EventType = "error"
)

// Event is a single item of the conversation stream.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`

	// Message is set for task and message events.
	Message *domain.Message `json:"message,omitempty"`
	// Artifacts lists files announced by the message and found on disk.
	Artifacts []domain.Artifact `json:"artifacts,omitempty"`
	// Annotations holds non-fatal problems found while emitting the message.
	Annotations []domain.Annotation `json:"annotations,omitempty"`

	// StopReason is set for stop events.
	StopReason string `json:"stop_reason,omitempty"`
	// Error is set for error events.
	Error string `json:"error,omitempty"`
}

// Clone returns a copy that shares no mutable memory with e.
func (e Event) Clone() Event {
	c := e
	if e.Message != nil {
		m := domain.CloneTranscript([]domain.Message{*e.Message})[0]
		c.Message = &m
	}
	if e.Artifacts != nil {
		c.Artifacts = append([]domain.Artifact(nil), e.Artifacts...)
	}
	if e.Annotations != nil {
		c.Annotations = append([]domain.Annotation(nil), e.Annotations...)
	}
	return c
}

// Replay converts a saved state into the events a live observer would have
// seen, ending with a stop event when the state is terminated. Artifacts are
// not resolved.
func Replay(state *domain.SessionState) []Event {
	events := make([]Event, 0, len(state.Transcript)+1)
	for _, m := range domain.CloneTranscript(state.Transcript) {
		ev := Event{Type: EventMessage, SessionID: state.ID, Time: m.Timestamp, Message: &m}
		if m.Source == domain.User {
			ev.Type = EventTask
		}
		events = append(events, ev)
	}
	if state.Terminated {
		var at time.Time
		if n := len(state.Transcript); n > 0 {
			at = state.Transcript[n-1].Timestamp
		}
		events = append(events, Event{Type: EventStop, SessionID: state.ID, Time: at, StopReason: state.StopReason})
	}
	return events
}
