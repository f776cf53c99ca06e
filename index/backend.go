package index

import (
	"context"

	"github.com/poiesic/ragify/core"
)

// FileNameField is the payload field carrying a point's source file name.
// Backends keep a keyword index on it so deletes by file name stay cheap.
const FileNameField = "file_name"

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name       string
	Dimensions int
	Points     int
}

// Backend is a vector database holding one collection per tenant.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	// DescribeCollection returns ErrCollectionNotFound if the collection doesn't exist.
	DescribeCollection(ctx context.Context, name string) (*CollectionInfo, error)

	// CreateCollection creates a cosine-distance collection for dim-sized vectors.
	// Returns ErrCollectionExists if another caller created it first.
	CreateCollection(ctx context.Context, name string, dim int) error

	// CreateKeywordIndex indexes a payload field for exact-match filtering.
	// Creating an index that exists is not an error.
	CreateKeywordIndex(ctx context.Context, name, field string) error

	// Upsert inserts points, replacing any with the same id.
	Upsert(ctx context.Context, name string, points []core.VectorPoint) error

	// Search returns up to limit points by descending cosine similarity.
	// Returns ErrCollectionNotFound if the collection doesn't exist.
	Search(ctx context.Context, name string, vector []float32, limit int) ([]core.ScoredPoint, error)

	// DeleteByField removes every point whose payload field equals value.
	DeleteByField(ctx context.Context, name, field, value string) error

	// DeletePoints removes points by id. Missing ids are ignored.
	DeletePoints(ctx context.Context, name string, ids []core.ID) error

	// Close releases the backend's connections.
	Close() error
}
