package retrieval

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/poiesic/ragify/ai"
	"github.com/poiesic/ragify/ai/mock"
	"github.com/poiesic/ragify/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults() []core.RetrievalResult {
	return []core.RetrievalResult{
		{Text: "The proxy listens on port 8080.", FileName: "guide.pdf", PageNumber: 4, Score: 0.91},
		{Text: "Keys rotate every 90 days.", FileName: "policy.md", PageNumber: 1, Score: 0.42},
	}
}

func TestNewSynthesizer(t *testing.T) {
	_, err := NewSynthesizer(nil)
	assert.Equal(t, ErrGeneratorRequired, err)

	_, err = NewSynthesizer(mock.NewMockGenerator(), WithMaxContextChars(0))
	assert.Error(t, err)
}

func TestAnswer_NoResultsSkipsGenerator(t *testing.T) {
	gen := mock.NewMockGenerator()
	s, err := NewSynthesizer(gen)
	require.NoError(t, err)

	answer, err := s.Answer(context.Background(), "where is the proxy?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, answer.Text)
	assert.Nil(t, answer.FileName)
	assert.Nil(t, answer.PageNumber)
	assert.Zero(t, answer.Score)
	assert.False(t, answer.Degraded)
	assert.Zero(t, gen.CallCount())
}

func TestAnswer_BlankQuery(t *testing.T) {
	gen := mock.NewMockGenerator()
	s, err := NewSynthesizer(gen)
	require.NoError(t, err)

	_, err = s.Answer(context.Background(), "  ", sampleResults())
	assert.ErrorIs(t, err, core.ErrInvalidQuery)
	assert.Zero(t, gen.CallCount())
}

func TestAnswer_ParsesContract(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.Response = `{"text": "Port 8080.", "file_name": "guide.pdf", "page_number": 4, "score": 0.91}`
	s, err := NewSynthesizer(gen)
	require.NoError(t, err)

	answer, err := s.Answer(context.Background(), "Which port does the proxy use?", sampleResults())
	require.NoError(t, err)
	assert.Equal(t, "Port 8080.", answer.Text)
	require.NotNil(t, answer.FileName)
	assert.Equal(t, "guide.pdf", *answer.FileName)
	require.NotNil(t, answer.PageNumber)
	assert.Equal(t, 4, *answer.PageNumber)
	assert.InDelta(t, 0.91, answer.Score, 1e-6)
	assert.False(t, answer.Degraded)

	req, ok := gen.LastRequest()
	require.True(t, ok)
	assert.Contains(t, req.Context, "Query: Which port does the proxy use?")
	assert.Contains(t, req.Context, "The proxy listens on port 8080. (File: guide.pdf, Page: 4, Score: 0.9100)")
	assert.Contains(t, req.Context, "Keys rotate every 90 days. (File: policy.md, Page: 1, Score: 0.4200)")
	assert.Contains(t, req.Schema, "page_number")
}

func TestAnswer_NullCitation(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.Response = `{"text": "The documents do not say.", "file_name": null, "page_number": null, "score": 0}`
	s, err := NewSynthesizer(gen)
	require.NoError(t, err)

	answer, err := s.Answer(context.Background(), "what is the meaning of life?", sampleResults())
	require.NoError(t, err)
	assert.Nil(t, answer.FileName)
	assert.Nil(t, answer.PageNumber)
}

func TestAnswer_GenerationFailureDegrades(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateJSONFunc = func(ctx context.Context, req ai.GenerationRequest, out any) error {
		return errors.New("rate limited")
	}
	s, err := NewSynthesizer(gen)
	require.NoError(t, err)

	answer, err := s.Answer(context.Background(), "which port?", sampleResults())
	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.Contains(t, answer.Text, "rate limited")
	assert.Nil(t, answer.FileName)
	assert.Nil(t, answer.PageNumber)
	assert.Zero(t, answer.Score)
}

func TestAnswer_LogsComponent(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateJSONFunc = func(ctx context.Context, req ai.GenerationRequest, out any) error {
		return errors.New("rate limited")
	}
	var buf bytes.Buffer
	s, err := NewSynthesizer(gen, WithSynthesizerLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, err)

	_, err = s.Answer(context.Background(), "which port?", sampleResults())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "component=synthesizer")
}

func TestAnswer_BoundsContext(t *testing.T) {
	gen := mock.NewMockGenerator()
	s, err := NewSynthesizer(gen, WithMaxContextChars(80))
	require.NoError(t, err)

	results := []core.RetrievalResult{
		{Text: strings.Repeat("x", 200), FileName: "big.txt", PageNumber: 1, Score: 0.9},
		{Text: "small", FileName: "small.txt", PageNumber: 1, Score: 0.8},
	}
	_, err = s.Answer(context.Background(), "q", results)
	require.NoError(t, err)

	req, _ := gen.LastRequest()
	snippets := req.Context[strings.Index(req.Context, "Document snippets:\n")+len("Document snippets:\n"):]
	assert.Len(t, snippets, 80)
	assert.NotContains(t, snippets, "small")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	// never splits a multi-byte rune
	assert.Equal(t, "a", truncate("aé", 2))
}
