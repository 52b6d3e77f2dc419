package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/nstogner/datachat/pkg/domain"
)

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user, assistant, system).
	Role domain.Role
	// Text is the message body.
	Text string
}

// Provider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "openai").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Stream sends a conversation context to the LLM and returns a stream of responses.
	// modelName identifies which model to use (e.g. "gemini-2.0-flash").
	// instructions is the system prompt.
	// messages is the conversation history.
	Stream(ctx context.Context, modelName, instructions string, messages []Message) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// FullMessage blocks until the complete response is available and returns it.
	FullMessage() (Message, error)

	// Close releases resources associated with this stream.
	Close() error
}

// Complete streams a response and waits for the full message.
func Complete(ctx context.Context, p Provider, modelName, instructions string, messages []Message) (Message, error) {
	stream, err := p.Stream(ctx, modelName, instructions, messages)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, p.Name(), err)
	}
	defer stream.Close()

	msg, err := stream.FullMessage()
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, p.Name(), err)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Message{}, fmt.Errorf("%w: %s: empty response", domain.ErrBackendUnavailable, p.Name())
	}
	return msg, nil
}
