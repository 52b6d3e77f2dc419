package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/model"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "o3-mini"

// Provider implements model.Provider against any OpenAI-compatible chat
// completions endpoint.
type Provider struct {
	client openai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates an OpenAI provider. An empty baseURL uses the SDK default,
// which itself honours OPENAI_BASE_URL.
func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &Provider{client: openai.NewClient(opts...)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

// List returns the models the endpoint serves.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	iter := p.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		m := iter.Current()
		models = append(models, domain.Model{
			ID:       m.ID,
			Name:     m.ID,
			Provider: "openai",
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// Stream starts a streaming chat completion.
func (p *Provider) Stream(ctx context.Context, modelName, instructions string, messages []model.Message) (model.ModelStream, error) {
	slog.Debug("OpenAI.Stream", "model", modelName, "messageCount", len(messages))

	if modelName == "" {
		modelName = DefaultModel
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelName),
		Messages: toMessages(instructions, messages),
	}
	if len(params.Messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	return &openaiStream{stream: p.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func toMessages(instructions string, messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if instructions != "" {
		out = append(out, openai.SystemMessage(instructions))
	}
	for _, msg := range messages {
		if msg.Text == "" {
			continue
		}
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Text))
		default:
			out = append(out, openai.UserMessage(msg.Text))
		}
	}
	return out
}

type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) FullMessage() (model.Message, error) {
	acc := openai.ChatCompletionAccumulator{}
	for s.stream.Next() {
		acc.AddChunk(s.stream.Current())
	}
	if err := s.stream.Err(); err != nil {
		return model.Message{}, err
	}
	if len(acc.Choices) == 0 {
		return model.Message{}, fmt.Errorf("no choices in response")
	}
	return model.Message{
		Role: domain.RoleAssistant,
		Text: acc.Choices[0].Message.Content,
	}, nil
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
