package ai

import "errors"

var (
	// ErrEmbedderRequired indicates a nil embedder was passed to a constructor.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrInvalidBatchSize indicates a non-positive batch size.
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrInvalidConcurrency indicates a non-positive concurrency limit.
	ErrInvalidConcurrency = errors.New("concurrency must be positive")

	// ErrLengthMismatch indicates a backend returned a different number of vectors than texts.
	ErrLengthMismatch = errors.New("embedding count does not match input count")
)
