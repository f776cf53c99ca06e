package index

import "errors"

var (
	// ErrBackendRequired indicates that a nil backend was passed to a constructor.
	ErrBackendRequired = errors.New("index backend is required")

	// ErrCollectionNotFound indicates that a collection doesn't exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists indicates that a collection was already created.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrMissingPointID indicates a point without an id while content-hash ids are disabled.
	ErrMissingPointID = errors.New("point id is required")

	// ErrInvalidDimensions indicates a non-positive vector dimension.
	ErrInvalidDimensions = errors.New("dimensions must be greater than 0")

	// ErrInvalidLimit indicates a non-positive search limit.
	ErrInvalidLimit = errors.New("limit must be greater than 0")

	// ErrInvalidBatchSize indicates a non-positive upsert batch size.
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")
)
