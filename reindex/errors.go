package reindex

import "errors"

var (
	// ErrStoreRequired is returned when no metadata store is given.
	ErrStoreRequired = errors.New("store is required")

	// ErrEmbedderRequired is returned when no embedder is given.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrIndexRequired is returned when no index manager is given.
	ErrIndexRequired = errors.New("index manager is required")

	// ErrVectorCountMismatch is returned when the embedder returns a
	// different number of vectors than texts it was given.
	ErrVectorCountMismatch = errors.New("embedder returned wrong number of vectors")
)
