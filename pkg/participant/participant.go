// Package participant implements the two sides of a data-analysis
// conversation: a Reasoner that proposes code and an Executor that runs it.
package participant

import (
	"context"

	"github.com/nstogner/datachat/pkg/domain"
)

// Turn is what a participant sees when it is asked to speak.
type Turn struct {
	// SessionID identifies the conversation.
	SessionID string
	// Transcript is a copy of the conversation so far, seed task included.
	Transcript []domain.Message
	// Code is the most recent CODE message not yet answered by the Executor
	// within the current task, if any.
	Code *domain.Message
}

// NewTurn builds a Turn from the live transcript. The transcript is copied.
func NewTurn(sessionID string, transcript []domain.Message) Turn {
	t := Turn{SessionID: sessionID, Transcript: domain.CloneTranscript(transcript)}
	if m, ok := domain.PendingCode(t.Transcript); ok {
		t.Code = &m
	}
	return t
}

// Participant produces exactly one message per turn.
type Participant interface {
	ID() domain.ParticipantID
	Take(ctx context.Context, turn Turn) (domain.Message, error)
}
