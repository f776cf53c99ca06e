package chunk

import "errors"

var (
	// ErrInvalidChunkSize indicates a non-positive window size.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap indicates an overlap that is negative or not smaller than the window.
	ErrInvalidOverlap = errors.New("chunk overlap must be non-negative and smaller than chunk size")
)
