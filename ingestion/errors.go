package ingestion

import "errors"

var (
	// ErrStoreRequired is returned when a metadata store is not provided.
	ErrStoreRequired = errors.New("metadata store required")

	// ErrChunkerRequired is returned when a chunker is not provided.
	ErrChunkerRequired = errors.New("chunker required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrIndexRequired is returned when an index manager is not provided.
	ErrIndexRequired = errors.New("index manager required")

	// ErrOrchestratorRequired is returned when an orchestrator is not provided.
	ErrOrchestratorRequired = errors.New("orchestrator required")

	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("ingestion queue full")

	// ErrQueueClosed is returned by Submit after Release.
	ErrQueueClosed = errors.New("ingestion queue closed")

	// ErrDocumentNotFound is returned when deleting a document that doesn't exist.
	ErrDocumentNotFound = errors.New("document not found")
)
