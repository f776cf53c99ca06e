package storage

import (
	"context"
	"time"

	"github.com/poiesic/ragify/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close closes the storage backend and releases resources.
	Close() error
}

// DocumentRepository stores SourceDocument and Chunk records scoped by tenant.
type DocumentRepository interface {
	Repository

	// CreateDocument atomically stores a document, its chunks, and removes the
	// document's index intent. Either everything becomes visible or nothing does.
	// Returns ErrDuplicateKey if the tenant already has a document with the same id or file name.
	CreateDocument(ctx context.Context, doc *core.SourceDocument, chunks []*core.Chunk) error

	// GetDocument retrieves a document by id.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, tenantID, documentID string) (*core.SourceDocument, error)

	// FindDocumentByFileName retrieves a tenant's document by file name.
	// Returns ErrNotFound if there is none.
	FindDocumentByFileName(ctx context.Context, tenantID, fileName string) (*core.SourceDocument, error)

	// ListDocuments returns a tenant's documents ordered by creation time.
	ListDocuments(ctx context.Context, tenantID string) ([]*core.SourceDocument, error)

	// GetChunks returns a document's chunks ordered by position.
	GetChunks(ctx context.Context, tenantID, documentID string) ([]*core.Chunk, error)

	// ForEachChunkBatch calls fn with up to batchSize chunks at a time until
	// all of the tenant's chunks have been visited or fn returns an error.
	ForEachChunkBatch(ctx context.Context, tenantID string, batchSize int, fn func([]*core.Chunk) error) error

	// UpdateChunkVectors replaces the stored vectors of existing chunks.
	// Returns ErrNotFound if any chunk doesn't exist.
	UpdateChunkVectors(ctx context.Context, chunks []*core.Chunk) error

	// DeleteChunks removes all chunks of a document. Deleting no chunks is not an error.
	DeleteChunks(ctx context.Context, tenantID, documentID string) error

	// DeleteDocument removes a document and, by cascade, any chunks left.
	// Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, tenantID, documentID string) error

	// Stats counts a tenant's documents and chunks.
	Stats(ctx context.Context, tenantID string) (*core.TenantStats, error)
}

// IntentRepository stores the outbox records written before vector-index writes.
type IntentRepository interface {
	Repository

	// SaveIntent stores or replaces the intent for intent.DocumentID.
	SaveIntent(ctx context.Context, intent *core.IndexIntent) error

	// ListIntents returns intents created before olderThan, oldest first.
	ListIntents(ctx context.Context, olderThan time.Time) ([]*core.IndexIntent, error)

	// DeleteIntent removes the intent for a document. Deleting a missing intent is not an error.
	DeleteIntent(ctx context.Context, documentID string) error
}

// JobRepository stores ingestion jobs and their status.
type JobRepository interface {
	Repository

	// SaveJob stores or replaces a job.
	SaveJob(ctx context.Context, job *core.IngestionJob) error

	// GetJob retrieves a job by id.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.IngestionJob, error)

	// ListJobs returns jobs in any of the given states, oldest first.
	// With no states, all jobs are returned.
	ListJobs(ctx context.Context, states ...core.JobState) ([]*core.IngestionJob, error)
}

// Store is a metadata store providing every repository.
type Store interface {
	DocumentRepository
	IntentRepository
	JobRepository
}
