package core

import (
	"time"
)

// Tenant is the isolation boundary of the system. Each tenant owns exactly
// one vector collection.
type Tenant struct {
	ID string
}

// CollectionName returns the tenant's vector collection name.
// The name only depends on prefix and tenant id, so every process derives the same one.
func (t Tenant) CollectionName(prefix string) string {
	return CollectionName(prefix, t.ID)
}

// SourceDocument is one ingested file.
type SourceDocument struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	FileName   string    `json:"file_name"`
	MediaType  string    `json:"media_type,omitempty"`
	Format     Format    `json:"format"`
	SizeBytes  int64     `json:"size_bytes"`
	OriginURL  string    `json:"origin_url,omitempty"`  // External location of the stored file, if any
	ContentKey string    `json:"content_key,omitempty"` // Object storage key used for deletion, if any
	PublicID   string    `json:"public_id,omitempty"`   // Identifier assigned by the storage provider, if any
	CreatedAt  time.Time `json:"created_at"`
}

// Chunk is a contiguous, cleaned span of a document's text together with its embedding.
type Chunk struct {
	ID         ID
	DocumentID string
	TenantID   string
	FileName   string
	Position   int // Zero-based position within the document
	PageNumber int
	Text       string
	Vector     []float32
}

// Point projects the chunk into its vector-index form. The point id is the chunk id.
func (c *Chunk) Point() VectorPoint {
	return VectorPoint{
		ID:     c.ID,
		Vector: c.Vector,
		Payload: Payload{
			Text:       c.Text,
			FileName:   c.FileName,
			PageNumber: c.PageNumber,
			DocumentID: c.DocumentID,
		},
	}
}

// ChunkText is a chunker output before ids and vectors are attached.
type ChunkText struct {
	Text       string
	PageNumber int
}

// Payload is the non-vector metadata stored with each indexed point.
type Payload struct {
	Text       string `json:"text"`
	FileName   string `json:"file_name"`
	PageNumber int    `json:"page_number"`
	DocumentID string `json:"document_id,omitempty"`
}

// VectorPoint is an entry in a tenant's vector collection.
// An ID of zero means "not assigned".
type VectorPoint struct {
	ID      ID
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a VectorPoint returned by a similarity search.
type ScoredPoint struct {
	ID      ID
	Payload Payload
	Score   float32
}

// RetrievalResult is a single retrieved chunk, ordered by descending score.
type RetrievalResult struct {
	Text       string  `json:"text"`
	FileName   string  `json:"file_name"`
	PageNumber int     `json:"page_number"`
	Score      float32 `json:"score"`
}

// Answer is a synthesized answer. Citation fields are nil when no citation applies.
type Answer struct {
	Text       string
	FileName   *string
	PageNumber *int
	Score      float32
	// Degraded is set when generation failed and Text carries a diagnostic.
	Degraded bool
}

// ConversationTurn is a query together with its synthesized answer.
type ConversationTurn struct {
	TenantID  string
	Query     string
	Answer    Answer
	Results   []RetrievalResult
	CreatedAt time.Time
}

// JobState is the state of an ingestion request.
type JobState string

const (
	StateReceived  JobState = "received"
	StateChunked   JobState = "chunked"
	StateEmbedded  JobState = "embedded"
	StateIndexed   JobState = "indexed"
	StatePersisted JobState = "persisted"
	StateDone      JobState = "done"
	StateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Stage identifies the ingestion step that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageIndex    Stage = "index"
	StagePersist  Stage = "persist"
)

// IngestionJob is a queued ingestion request and its observable status.
type IngestionJob struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Document    *SourceDocument `json:"document"`
	RawText     string          `json:"raw_text,omitempty"`
	State       JobState        `json:"state"`
	FailedStage Stage           `json:"failed_stage,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	Chunks      int             `json:"chunks"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IndexIntent records that vector points are about to be written for a
// document whose metadata has not been committed yet.
type IndexIntent struct {
	DocumentID string    `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	Collection string    `json:"collection"`
	FileName   string    `json:"file_name"`
	PointIDs   []ID      `json:"point_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// TenantStats summarizes a tenant's stored content.
type TenantStats struct {
	TenantID  string
	Documents int
	Chunks    int
}
