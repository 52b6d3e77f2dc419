package participant

import (
	"context"
	"errors"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/model"
	"github.com/nstogner/datachat/pkg/sandbox"
)

// fakeProvider replays canned replies and records what it was sent.
type fakeProvider struct {
	replies      []string
	err          error
	calls        int
	instructions string
	messages     []model.Message
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) List(ctx context.Context) ([]domain.Model, error) { return nil, nil }

func (p *fakeProvider) Stream(ctx context.Context, modelName, instructions string, messages []model.Message) (model.ModelStream, error) {
	p.instructions = instructions
	p.messages = messages
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.replies) {
		return nil, errors.New("no more replies")
	}
	reply := p.replies[p.calls]
	p.calls++
	return fakeStream(reply), nil
}

type fakeStream string

func (s fakeStream) FullMessage() (model.Message, error) {
	return model.Message{Role: domain.RoleAssistant, Text: string(s)}, nil
}

func (s fakeStream) Close() error { return nil }

// fakeBackend returns scripted results per language.
type fakeBackend struct {
	results map[string]*sandbox.Result
	err     error
	ran     []string
}

func (b *fakeBackend) Start(ctx context.Context) error { return nil }
func (b *fakeBackend) Stop(ctx context.Context) error  { return nil }

func (b *fakeBackend) Run(ctx context.Context, code, language string) (*sandbox.Result, error) {
	b.ran = append(b.ran, code)
	if b.err != nil {
		return nil, b.err
	}
	if r, ok := b.results[code]; ok {
		return r, nil
	}
	return &sandbox.Result{Stdout: "ok\n"}, nil
}
