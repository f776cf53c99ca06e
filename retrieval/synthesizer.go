package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/ragify/ai"
	"github.com/poiesic/ragify/core"
)

const (
	// NoContextAnswer is returned when there is nothing to ground an answer on.
	NoContextAnswer = "No relevant documents found."

	// DefaultMaxContextChars bounds the snippet text sent to the generator.
	DefaultMaxContextChars = 12000
)

const answerInstructions = `You are an assistant answering questions about the user's documents.
Answer the query using only the document snippets provided. Be concise.
If the snippets do not contain the answer, say so in the text field.
Cite the single snippet that best supports the answer: copy its file name,
page number and score into the matching fields.`

const answerSchema = `{
  "text": "string, the answer",
  "file_name": "string or null, file name of the cited snippet",
  "page_number": "integer or null, page number of the cited snippet",
  "score": "number, score of the cited snippet"
}`

// answerPayload is the JSON object the generator returns.
type answerPayload struct {
	Text       string  `json:"text"`
	FileName   *string `json:"file_name"`
	PageNumber *int    `json:"page_number"`
	Score      float32 `json:"score"`
}

// Synthesizer turns retrieval results into a grounded answer.
type Synthesizer struct {
	generator       ai.Generator
	maxContextChars int
	logger          *slog.Logger
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer) error

// WithMaxContextChars bounds the snippet text in the prompt.
// Default is DefaultMaxContextChars.
func WithMaxContextChars(n int) SynthesizerOption {
	return func(s *Synthesizer) error {
		if n < 1 {
			return fmt.Errorf("max context chars must be positive, got %d", n)
		}
		s.maxContextChars = n
		return nil
	}
}

// WithSynthesizerLogger sets a custom logger.
// Default is slog.Default().
func WithSynthesizerLogger(logger *slog.Logger) SynthesizerOption {
	return func(s *Synthesizer) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSynthesizer creates a synthesizer on generator.
func NewSynthesizer(generator ai.Generator, opts ...SynthesizerOption) (*Synthesizer, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	s := &Synthesizer{
		generator:       generator,
		maxContextChars: DefaultMaxContextChars,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "synthesizer")
	return s, nil
}

// Answer synthesizes an answer to query from results.
//
// Without results the answer is NoContextAnswer and the generator is not
// called. A generator failure is not an error: the answer is marked
// Degraded, its text describes the failure and it has no citation.
func (s *Synthesizer) Answer(ctx context.Context, query string, results []core.RetrievalResult) (*core.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.ErrInvalidQuery
	}
	if len(results) == 0 {
		return &core.Answer{Text: NoContextAnswer}, nil
	}

	req := ai.GenerationRequest{
		Instructions: answerInstructions,
		Context:      "Query: " + query + "\n\nDocument snippets:\n" + s.snippets(results),
		Schema:       answerSchema,
	}
	var payload answerPayload
	if err := s.generator.GenerateJSON(ctx, req, &payload); err != nil {
		s.logger.Warn("answer generation failed", "err", err)
		return &core.Answer{
			Text:     fmt.Sprintf("answer generation failed: %v", err),
			Degraded: true,
		}, nil
	}

	return &core.Answer{
		Text:       payload.Text,
		FileName:   payload.FileName,
		PageNumber: payload.PageNumber,
		Score:      payload.Score,
	}, nil
}

// snippets formats results one per paragraph until maxContextChars is
// reached. The first snippet is always included, truncated if necessary.
func (s *Synthesizer) snippets(results []core.RetrievalResult) string {
	var b strings.Builder
	for i, r := range results {
		snippet := fmt.Sprintf("%s (File: %s, Page: %d, Score: %.4f)", r.Text, r.FileName, r.PageNumber, r.Score)
		sep := ""
		if i > 0 {
			sep = "\n\n"
		}
		if b.Len()+len(sep)+len(snippet) > s.maxContextChars {
			if i == 0 {
				b.WriteString(truncate(snippet, s.maxContextChars))
			}
			break
		}
		b.WriteString(sep)
		b.WriteString(snippet)
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
