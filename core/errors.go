// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers.
var (
	// ErrUnsupportedFormat indicates no splitter is registered for a source format.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyDocument indicates chunking produced no non-empty chunks.
	ErrEmptyDocument = errors.New("empty document")

	// ErrEmbeddingBackend indicates the embedding backend failed.
	ErrEmbeddingBackend = errors.New("embedding backend error")

	// ErrDimensionMismatch indicates a vector does not match the configured dimension.
	// It is a configuration error and is never retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexUnavailable indicates the vector index backend cannot be reached.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrIngestionFailed indicates an ingestion request ended in the failed state.
	ErrIngestionFailed = errors.New("ingestion failed")

	// ErrInvalidQuery indicates a blank query.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrGenerationDegraded marks answers produced after a generation failure.
	ErrGenerationDegraded = errors.New("generation degraded")

	// ErrDuplicateDocument indicates the tenant already has a document with the same file name.
	ErrDuplicateDocument = errors.New("duplicate document")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a SourceDocument failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrEmptyTenant indicates a missing tenant id.
	ErrEmptyTenant = errors.New("tenant id cannot be empty")

	// ErrEmptyFileName indicates a missing file name.
	ErrEmptyFileName = errors.New("file name cannot be empty")

	// ErrEmptyContent indicates empty chunk text.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidPageNumber indicates a page number below 1.
	ErrInvalidPageNumber = errors.New("page number must be positive")
)

// EmbeddingError reports the batches an embedding call could not complete.
// Partial holds the vectors of the batches that succeeded, nil elsewhere.
type EmbeddingError struct {
	Failures []BatchFailure
	Partial  [][]float32
}

// BatchFailure describes one failed embedding batch covering texts [Start, End).
type BatchFailure struct {
	Batch  int
	Start  int
	End    int
	Detail string
	Err    error
}

func (e *EmbeddingError) Error() string {
	if len(e.Failures) == 0 {
		return ErrEmbeddingBackend.Error()
	}
	f := e.Failures[0]
	return fmt.Sprintf("%s: %d batches failed, first batch %d: %s",
		ErrEmbeddingBackend, len(e.Failures), f.Batch, f.Detail)
}

// Unwrap exposes the kind and the underlying backend errors.
func (e *EmbeddingError) Unwrap() []error {
	errs := []error{ErrEmbeddingBackend}
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// IngestionError identifies the stage at which an ingestion failed.
type IngestionError struct {
	DocumentID string
	Stage      Stage
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("%s at %s stage: %v", ErrIngestionFailed, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() []error {
	return []error{ErrIngestionFailed, e.Err}
}

// IndexWriteUncertain reports whether vector points may have been written
// before the failure.
func (e *IngestionError) IndexWriteUncertain() bool {
	return e.Stage == StageIndex || e.Stage == StagePersist
}

// Kind is a stable, machine-readable error tag.
type Kind string

const (
	KindUnknown            Kind = "Unknown"
	KindUnsupportedFormat  Kind = "UnsupportedFormat"
	KindEmptyDocument      Kind = "EmptyDocument"
	KindEmbeddingBackend   Kind = "EmbeddingBackendError"
	KindDimensionMismatch  Kind = "DimensionMismatch"
	KindIndexUnavailable   Kind = "IndexUnavailable"
	KindIngestionFailed    Kind = "IngestionFailed"
	KindInvalidQuery       Kind = "InvalidQuery"
	KindGenerationDegraded Kind = "GenerationDegraded"
	KindDuplicateDocument  Kind = "DuplicateDocument"
	KindInvalidInput       Kind = "InvalidInput"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	// IngestionFailed wraps the others, so it is checked first.
	{ErrIngestionFailed, KindIngestionFailed},
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrEmptyDocument, KindEmptyDocument},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrEmbeddingBackend, KindEmbeddingBackend},
	{ErrIndexUnavailable, KindIndexUnavailable},
	{ErrInvalidQuery, KindInvalidQuery},
	{ErrGenerationDegraded, KindGenerationDegraded},
	{ErrDuplicateDocument, KindDuplicateDocument},
	{ErrInvalidDocument, KindInvalidInput},
	{ErrInvalidChunk, KindInvalidInput},
}

// KindOf maps err to its caller-facing kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
