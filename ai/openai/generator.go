package openai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/poiesic/ragify/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const maxParseAttempts = 3

var (
	// ErrNoChoices indicates the model returned no completion.
	ErrNoChoices = errors.New("model returned no choices")

	// ErrModelRequired indicates a nil model was passed to a constructor.
	ErrModelRequired = errors.New("model is required")
)

// Generator produces JSON answers through an OpenAI-compatible chat endpoint.
type Generator struct {
	client      llms.Model
	temperature float64
	logger      *slog.Logger
}

func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(token(config)),
		openai.WithModel(config.GenerationModel),
	)
	if err != nil {
		return nil, err
	}
	return newGeneratorWithModel(client, config.Temperature)
}

func newGeneratorWithModel(model llms.Model, temperature float64) (*Generator, error) {
	if model == nil {
		return nil, ErrModelRequired
	}
	return &Generator{
		client:      model,
		temperature: temperature,
		logger:      slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a generator for config.GenerationModel.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// NewGeneratorWithModel creates a generator on top of an existing langchaingo model.
func NewGeneratorWithModel(model llms.Model, temperature float64) (ai.Generator, error) {
	return newGeneratorWithModel(model, temperature)
}

// GenerateJSON sends the instructions as the system prompt and the context as
// the user message in JSON mode, then decodes the reply into out. Malformed
// JSON is repaired where possible and the request retried up to three times.
// Backend errors are returned immediately.
func (g *Generator) GenerateJSON(ctx context.Context, req ai.GenerationRequest, out any) error {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(buildSystemPrompt(req.Instructions, req.Schema)),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(req.Context),
			},
		},
	}

	var lastErr error
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		response, err := g.client.GenerateContent(ctx, content,
			llms.WithTemperature(g.temperature), llms.WithJSONMode())
		if err != nil {
			g.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return err
		}

		if len(response.Choices) < 1 {
			return ErrNoChoices
		}

		responseText := cleanJSON(response.Choices[0].Content)
		if err := json.Unmarshal([]byte(responseText), out); err != nil {
			lastErr = err
			g.logger.Warn("error parsing generator response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}
		return nil
	}

	g.logger.Error("failed to parse generator response after retries", "err", lastErr)
	return lastErr
}
