package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/model"
	"google.golang.org/genai"
)

const (
	// LevelTrace is a custom log level for detailed HTTP traffic.
	LevelTrace = slog.Level(-8)
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	httpClient := &http.Client{
		Transport: &loggingTransport{
			base:   http.DefaultTransport,
			apiKey: apiKey,
		},
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

type loggingTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// A custom http.Client can bypass the SDK's API key injection.
	if t.apiKey != "" && req.Header.Get("x-goog-api-key") == "" && req.URL.Query().Get("key") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("x-goog-api-key", t.apiKey)
	}

	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return t.base.RoundTrip(req)
	}

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		slog.Debug("Failed to dump Gemini request", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Gemini REST Request", "url", req.URL.String(), "dump", string(reqDump))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Streaming bodies are not dumped so they are not consumed.
	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		strings.Contains(req.URL.Query().Get("alt"), "sse")

	respDump, err := httputil.DumpResponse(resp, !isStream)
	if err != nil {
		slog.Debug("Failed to dump Gemini response", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Gemini REST Response", "isStream", isStream, "dump", string(respDump))
	}

	return resp, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// List returns available Gemini models.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}

		// Filter for models that support generateContent.
		supportsGenerate := false
		if !strings.Contains(strings.ToLower(m.Name), "gemma") {
			for _, action := range m.SupportedActions {
				if action == "generateContent" {
					supportsGenerate = true
					break
				}
			}
		}
		if !supportsGenerate {
			continue
		}

		models = append(models, domain.Model{
			ID:        strings.TrimPrefix(m.Name, "models/"),
			Name:      m.DisplayName,
			Provider:  "gemini",
			MaxTokens: int(m.InputTokenLimit),
		})
	}
	return models, nil
}

// Stream sends a conversation context to the LLM and returns a stream.
func (p *Provider) Stream(ctx context.Context, modelName, instructions string, messages []model.Message) (model.ModelStream, error) {
	slog.Debug("Gemini.Stream", "model", modelName, "messageCount", len(messages))

	contents := toContents(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	config := &genai.GenerateContentConfig{}
	if instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instructions}},
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	iter := p.client.Models.GenerateContentStream(streamCtx, modelName, contents, config)

	return &geminiStream{
		iter:   iter,
		cancel: cancel,
	}, nil
}

// toContents converts the conversation into genai contents. System messages
// are dropped (they travel as the system instruction) and consecutive
// messages with the same role are merged, since Gemini expects turns to
// alternate.
func toContents(messages []model.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Role == domain.RoleSystem || msg.Text == "" {
			continue
		}
		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, &genai.Part{Text: msg.Text})
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Text}},
		})
	}
	return contents
}

// geminiStream wraps the Gemini streaming iterator.
type geminiStream struct {
	iter   func(yield func(*genai.GenerateContentResponse, error) bool)
	cancel context.CancelFunc
}

func (s *geminiStream) FullMessage() (model.Message, error) {
	var fullText strings.Builder

	for resp, err := range s.iter {
		if err != nil {
			return model.Message{}, err
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				// Thought summaries are not part of the answer.
				if part.Text != "" && !part.Thought {
					fullText.WriteString(part.Text)
				}
			}
		}
	}

	return model.Message{
		Role: domain.RoleAssistant,
		Text: fullText.String(),
	}, nil
}

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}
