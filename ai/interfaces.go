package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in one backend call.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerationRequest is a structured-output request to a generation backend.
type GenerationRequest struct {
	// Instructions is the system prompt.
	Instructions string

	// Context is the user-facing content the answer must be grounded on.
	Context string

	// Schema describes the JSON object the backend must return.
	Schema string
}

// Generator produces structured output from instructions and context.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// GenerateJSON asks the backend for a JSON object matching req.Schema
	// and decodes it into out. Output is best effort: fields the backend
	// omitted keep their zero values.
	GenerateJSON(ctx context.Context, req GenerationRequest, out any) error
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the answer generation service.
	Generator() Generator

	// Dimensions returns the configured embedding dimension.
	Dimensions() int

	// Close releases resources held by the provider and its services.
	Close() error
}
