package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/ragify/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type scriptedModel struct {
	replies  []string
	err      error
	calls    int
	messages []llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	reply := m.replies[min(m.calls-1, len(m.replies)-1)]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type answer struct {
	Text       string  `json:"text"`
	FileName   *string `json:"file_name"`
	PageNumber *int    `json:"page_number"`
	Score      float32 `json:"score"`
}

func TestGenerator_GenerateJSON(t *testing.T) {
	model := &scriptedModel{replies: []string{"```json\n{\"text\":\"Paris\", file_name\":\"a.pdf\",\"page_number\":3,\"score\":0.9}\n```"}}
	gen, err := NewGeneratorWithModel(model, 0)
	require.NoError(t, err)

	var out answer
	err = gen.GenerateJSON(context.Background(), ai.GenerationRequest{
		Instructions: "Answer the query",
		Context:      "Query: capital of France",
		Schema:       `{"type":"object"}`,
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "Paris", out.Text)
	require.NotNil(t, out.FileName)
	assert.Equal(t, "a.pdf", *out.FileName)
	require.NotNil(t, out.PageNumber)
	assert.Equal(t, 3, *out.PageNumber)
	assert.Equal(t, 1, model.calls)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestGenerator_RetriesMalformedJSON(t *testing.T) {
	model := &scriptedModel{replies: []string{"not json", "still not", `{"text":"ok"}`}}
	gen, err := NewGeneratorWithModel(model, 0)
	require.NoError(t, err)

	var out answer
	require.NoError(t, gen.GenerateJSON(context.Background(), ai.GenerationRequest{Context: "q"}, &out))
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, 3, model.calls)
}

func TestGenerator_GivesUpAfterRetries(t *testing.T) {
	model := &scriptedModel{replies: []string{"nope"}}
	gen, err := NewGeneratorWithModel(model, 0)
	require.NoError(t, err)

	var out answer
	assert.Error(t, gen.GenerateJSON(context.Background(), ai.GenerationRequest{Context: "q"}, &out))
	assert.Equal(t, maxParseAttempts, model.calls)
}

func TestGenerator_BackendErrorNotRetried(t *testing.T) {
	backendErr := errors.New("503 service unavailable")
	model := &scriptedModel{err: backendErr}
	gen, err := NewGeneratorWithModel(model, 0)
	require.NoError(t, err)

	var out answer
	err = gen.GenerateJSON(context.Background(), ai.GenerationRequest{Context: "q"}, &out)
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, 1, model.calls)
}

func TestNewGeneratorWithModel_Nil(t *testing.T) {
	_, err := NewGeneratorWithModel(nil, 0)
	assert.ErrorIs(t, err, ErrModelRequired)
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, "Be brief.", buildSystemPrompt("Be brief.", ""))
	prompt := buildSystemPrompt("Be brief.", `{"type":"object"}`)
	assert.Contains(t, prompt, "Be brief.")
	assert.Contains(t, prompt, `{"type":"object"}`)
}
