package store

import (
	"context"
	"errors"
	"time"

	"github.com/nstogner/datachat/pkg/domain"
)

// ErrNotFound is returned when no state is saved under a token.
var ErrNotFound = errors.New("session not found")

// Token identifies a saved session state. It equals the state's ID.
type Token string

// Summary describes a saved session without loading its transcript.
type Summary struct {
	Token      Token     `json:"token"`
	Dataset    string    `json:"dataset,omitempty"`
	Messages   int       `json:"messages"`
	Turns      int       `json:"turns"`
	Terminated bool      `json:"terminated"`
	StopReason string    `json:"stop_reason,omitempty"`
	Created    time.Time `json:"created"`
	Modified   time.Time `json:"modified"`
}

// SessionStore persists conversation state across process boundaries.
type SessionStore interface {
	// Save snapshots state and returns its token. A state without an ID is
	// assigned one. Saving again under the same ID overwrites the snapshot.
	Save(ctx context.Context, state *domain.SessionState) (Token, error)

	// Load returns the state saved under token, or ErrNotFound.
	Load(ctx context.Context, token Token) (*domain.SessionState, error)

	// Delete removes a saved state. Deleting an unknown token returns ErrNotFound.
	Delete(ctx context.Context, token Token) error

	// List returns summaries of all saved states, most recently modified first.
	List(ctx context.Context) ([]Summary, error)
}

// Summarize builds a summary of state.
func Summarize(state *domain.SessionState, created, modified time.Time) Summary {
	return Summary{
		Token:      Token(state.ID),
		Dataset:    state.Dataset,
		Messages:   len(state.Transcript),
		Turns:      state.Turns,
		Terminated: state.Terminated,
		StopReason: state.StopReason,
		Created:    created,
		Modified:   modified,
	}
}
