package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/config"
)

// SamplingConfig controls a single generation call.
type SamplingConfig struct {
	MaxTokens   int
	Temperature float64
}

// Gateway is the text-generation backend. Implementations return exactly the
// text of the first completion or an error wrapping ErrGenerationUnavailable.
// They never retry.
type Gateway interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, sampling SamplingConfig) (string, error)
	Close() error
}

// NewGateway builds the backend selected by cfg.GenerationBackend.
func NewGateway(ctx context.Context, cfg *config.Config) (Gateway, error) {
	switch cfg.GenerationBackend {
	case config.BackendMock:
		slog.Info("using mock generation backend")
		return NewMockGateway(), nil
	case config.BackendOpenAI:
		slog.Info("using openai-compatible generation backend", "base_url", cfg.OpenAIBaseURL, "model", cfg.OpenAIModel)
		return NewOpenAIGateway(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.GenerationTimeout), nil
	default:
		slog.Info("using gemini generation backend", "model", cfg.GeminiModel)
		g, err := NewGeminiGateway(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GenerationTimeout)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}

type GeminiGateway struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

func NewGeminiGateway(ctx context.Context, apiKey, modelName string, timeout time.Duration) (*GeminiGateway, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiGateway{
		client:    client,
		modelName: modelName,
		timeout:   timeout,
	}, nil
}

func (g *GeminiGateway) Close() error {
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("closing GenAI client: %w", err)
	}
	slog.Info("GenAI client closed")
	return nil
}

func (g *GeminiGateway) Generate(ctx context.Context, systemPrompt, userPrompt string, sampling SamplingConfig) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.SetTemperature(float32(sampling.Temperature))
	if sampling.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(sampling.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini request failed: %v", ErrGenerationUnavailable, err)
	}
	return extractGeminiText(resp)
}

// extractGeminiText returns the text of the first candidate. Any other shape,
// including non-text parts, is treated as a failure.
func extractGeminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrGenerationUnavailable)
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: gemini candidate has no content", ErrGenerationUnavailable)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		txt, ok := part.(genai.Text)
		if !ok {
			return "", fmt.Errorf("%w: gemini returned a non-text part %T", ErrGenerationUnavailable, part)
		}
		text.WriteString(string(txt))
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", fmt.Errorf("%w: gemini returned empty text", ErrGenerationUnavailable)
	}
	return out, nil
}
