package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/storage"
)

// Store implements storage.Store on BadgerDB.
type Store struct {
	backend *Backend
	owned   bool
}

var _ storage.Store = (*Store)(nil)

// NewStore opens a persistent store rooted at path.
func NewStore(path string) (storage.Store, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, owned: true}, nil
}

// NewMemoryStore opens a store that lives only in memory.
func NewMemoryStore() (storage.Store, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, owned: true}, nil
}

// NewStoreWithBackend creates a store on a shared backend. Closing the store
// leaves the backend open.
func NewStoreWithBackend(backend *Backend) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	return &Store{backend: backend}, nil
}

// Close closes the backend if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.backend.Close()
}

// storedChunk is the persisted form of a chunk. Vectors are kept as
// little-endian float32 bytes.
type storedChunk struct {
	ID         core.ID `json:"id"`
	DocumentID string  `json:"document_id"`
	TenantID   string  `json:"tenant_id"`
	FileName   string  `json:"file_name"`
	Position   int     `json:"position"`
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Vector     []byte  `json:"vector,omitempty"`
}

func toStoredChunk(c *core.Chunk) storedChunk {
	return storedChunk{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		TenantID:   c.TenantID,
		FileName:   c.FileName,
		Position:   c.Position,
		PageNumber: c.PageNumber,
		Text:       c.Text,
		Vector:     core.EncodeVector(c.Vector),
	}
}

func (sc storedChunk) chunk() (*core.Chunk, error) {
	vector, err := core.DecodeVector(sc.Vector)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return &core.Chunk{
		ID:         sc.ID,
		DocumentID: sc.DocumentID,
		TenantID:   sc.TenantID,
		FileName:   sc.FileName,
		Position:   sc.Position,
		PageNumber: sc.PageNumber,
		Text:       sc.Text,
		Vector:     vector,
	}, nil
}

// CreateDocument stores a document with its chunks and clears its index intent.
// Chunks are written in size-bounded batches first. The document, its name and
// the intent removal commit together afterwards, and chunks are only visible
// once their document is. Calls for the same document id must not overlap.
func (s *Store) CreateDocument(ctx context.Context, doc *core.SourceDocument, chunks []*core.Chunk) error {
	if err := core.ValidateSourceDocument(doc); err != nil {
		return err
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: id is empty", core.ErrInvalidDocument)
	}
	for _, c := range chunks {
		if err := core.ValidateChunk(c); err != nil {
			return err
		}
		if c.DocumentID != doc.ID {
			return fmt.Errorf("%w: chunk %d belongs to document %q", core.ErrInvalidChunk, c.ID, c.DocumentID)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	docKey := makeDocumentKey(doc.TenantID, doc.ID)
	nameKey := makeDocumentNameKey(doc.TenantID, doc.FileName)
	checkUnique := func(tx *badger.Txn) error {
		for _, key := range [][]byte{docKey, nameKey} {
			if _, err := tx.Get(key); err == nil {
				return fmt.Errorf("%w: document %q (%s)", storage.ErrDuplicateKey, doc.ID, doc.FileName)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	}
	if err := s.backend.WithTx(checkUnique, false); err != nil {
		return err
	}

	err := s.backend.WithBatch(func(wb *badger.WriteBatch) error {
		for _, c := range chunks {
			data, err := encode(toStoredChunk(c))
			if err != nil {
				return err
			}
			if err := wb.Set(makeChunkKey(doc.TenantID, doc.ID, c.Position), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = s.backend.WithTx(func(tx *badger.Txn) error {
			if err := checkUnique(tx); err != nil {
				return err
			}
			if doc.CreatedAt.IsZero() {
				doc.CreatedAt = time.Now().UTC()
			}
			if err := SetJSON(tx, docKey, doc); err != nil {
				return err
			}
			if err := tx.Set(nameKey, []byte(doc.ID)); err != nil {
				return err
			}
			return tx.Delete(makeIntentKey(doc.ID))
		}, true)
	}
	if err != nil {
		if cerr := s.deleteChunkKeys(doc.TenantID, doc.ID); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}
	return nil
}

// deleteChunkKeys removes every chunk key of a document in batches.
func (s *Store) deleteChunkKeys(tenantID, documentID string) error {
	var keys [][]byte
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		keys, err = ScanKeys(tx, MakeKey(chunkPrefix, tenantID, documentID))
		return err
	}, false)
	if err != nil || len(keys) == 0 {
		return err
	}
	return s.backend.WithBatch(func(wb *badger.WriteBatch) error {
		for _, key := range keys {
			if err := wb.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// chunkDocumentID extracts the document id from a chunk key under a tenant's
// chunk prefix.
func chunkDocumentID(tenantPrefix, key []byte) string {
	rest := key[len(tenantPrefix):]
	if i := bytes.IndexByte(rest, keySep); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}

// committed reports whether the document of a chunk key exists, caching answers in seen.
func committed(tx *badger.Txn, tenantID string, tenantPrefix, key []byte, seen map[string]bool) (bool, error) {
	id := chunkDocumentID(tenantPrefix, key)
	if ok, found := seen[id]; found {
		return ok, nil
	}
	_, err := tx.Get(makeDocumentKey(tenantID, id))
	switch {
	case err == nil:
		seen[id] = true
	case errors.Is(err, badger.ErrKeyNotFound):
		seen[id] = false
	default:
		return false, err
	}
	return seen[id], nil
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, tenantID, documentID string) (*core.SourceDocument, error) {
	var doc core.SourceDocument
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return GetJSON(tx, makeDocumentKey(tenantID, documentID), &doc)
	}, false)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindDocumentByFileName retrieves a tenant's document by file name.
func (s *Store) FindDocumentByFileName(ctx context.Context, tenantID, fileName string) (*core.SourceDocument, error) {
	var doc core.SourceDocument
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeDocumentNameKey(tenantID, fileName))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return GetJSON(tx, makeDocumentKey(tenantID, string(id)), &doc)
	}, false)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns a tenant's documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context, tenantID string) ([]*core.SourceDocument, error) {
	var docs []*core.SourceDocument
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return ScanPrefix(tx, MakeKey(documentPrefix, tenantID), func(_, value []byte) error {
			var doc core.SourceDocument
			if err := decode(value, &doc); err != nil {
				return err
			}
			docs = append(docs, &doc)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(docs, func(a, b *core.SourceDocument) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return docs, nil
}

// GetChunks returns a document's chunks ordered by position.
func (s *Store) GetChunks(ctx context.Context, tenantID, documentID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return ScanPrefix(tx, MakeKey(chunkPrefix, tenantID, documentID), func(_, value []byte) error {
			c, err := decodeChunk(value)
			if err != nil {
				return err
			}
			chunks = append(chunks, c)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func decodeChunk(value []byte) (*core.Chunk, error) {
	var sc storedChunk
	if err := decode(value, &sc); err != nil {
		return nil, err
	}
	return sc.chunk()
}

// ForEachChunkBatch visits all of a tenant's committed chunks in key order.
// Each batch is read in its own transaction so long visits don't pin old versions.
func (s *Store) ForEachChunkBatch(ctx context.Context, tenantID string, batchSize int, fn func([]*core.Chunk) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}
	prefix := MakeKey(chunkPrefix, tenantID)
	var cursor []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := make([]*core.Chunk, 0, batchSize)
		var last []byte
		exhausted := false
		err := s.backend.WithTx(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			iter := tx.NewIterator(opts)
			defer iter.Close()

			seen := make(map[string]bool)
			start := prefix
			if cursor != nil {
				start = cursor
			}
			for iter.Seek(start); iter.Valid() && len(batch) < batchSize; iter.Next() {
				item := iter.Item()
				if cursor != nil && bytes.Equal(item.Key(), cursor) {
					continue
				}
				last = item.KeyCopy(nil)
				ok, err := committed(tx, tenantID, prefix, item.Key(), seen)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				value, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				c, err := decodeChunk(value)
				if err != nil {
					return err
				}
				batch = append(batch, c)
			}
			exhausted = !iter.Valid()
			return nil
		}, false)
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
		if exhausted || last == nil {
			return nil
		}
		cursor = last
	}
}

// UpdateChunkVectors replaces the stored vectors of existing chunks.
func (s *Store) UpdateChunkVectors(ctx context.Context, chunks []*core.Chunk) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		for _, c := range chunks {
			key := makeChunkKey(c.TenantID, c.DocumentID, c.Position)
			var sc storedChunk
			if err := GetJSON(tx, key, &sc); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%w: chunk %d", storage.ErrNotFound, c.ID)
				}
				return err
			}
			sc.Vector = core.EncodeVector(c.Vector)
			if err := SetJSON(tx, key, sc); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// DeleteChunks removes all chunks of a document.
func (s *Store) DeleteChunks(ctx context.Context, tenantID, documentID string) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		return deleteChunks(tx, tenantID, documentID)
	}, true)
}

func deleteChunks(tx *badger.Txn, tenantID, documentID string) error {
	keys, err := ScanKeys(tx, MakeKey(chunkPrefix, tenantID, documentID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes a document along with its file name index and any remaining chunks.
func (s *Store) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		var doc core.SourceDocument
		if err := GetJSON(tx, makeDocumentKey(tenantID, documentID), &doc); err != nil {
			return err
		}
		if err := deleteChunks(tx, tenantID, documentID); err != nil {
			return err
		}
		if err := tx.Delete(makeDocumentNameKey(tenantID, doc.FileName)); err != nil {
			return err
		}
		return tx.Delete(makeDocumentKey(tenantID, documentID))
	}, true)
}

// Stats counts a tenant's documents and committed chunks.
func (s *Store) Stats(ctx context.Context, tenantID string) (*core.TenantStats, error) {
	stats := &core.TenantStats{TenantID: tenantID}
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		docs, err := ScanKeys(tx, MakeKey(documentPrefix, tenantID))
		if err != nil {
			return err
		}
		stats.Documents = len(docs)

		prefix := MakeKey(chunkPrefix, tenantID)
		keys, err := ScanKeys(tx, prefix)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, key := range keys {
			ok, err := committed(tx, tenantID, prefix, key, seen)
			if err != nil {
				return err
			}
			if ok {
				stats.Chunks++
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// SaveIntent stores or replaces a document's index intent.
func (s *Store) SaveIntent(ctx context.Context, intent *core.IndexIntent) error {
	if intent == nil || intent.DocumentID == "" {
		return fmt.Errorf("%w: intent requires a document id", storage.ErrInvalidQuery)
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		return SetJSON(tx, makeIntentKey(intent.DocumentID), intent)
	}, true)
}

// ListIntents returns intents created before olderThan, oldest first.
func (s *Store) ListIntents(ctx context.Context, olderThan time.Time) ([]*core.IndexIntent, error) {
	var intents []*core.IndexIntent
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return ScanPrefix(tx, MakeKey(intentPrefix), func(_, value []byte) error {
			var intent core.IndexIntent
			if err := decode(value, &intent); err != nil {
				return err
			}
			if intent.CreatedAt.Before(olderThan) {
				intents = append(intents, &intent)
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(intents, func(a, b *core.IndexIntent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return intents, nil
}

// DeleteIntent removes a document's index intent.
func (s *Store) DeleteIntent(ctx context.Context, documentID string) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		return tx.Delete(makeIntentKey(documentID))
	}, true)
}

// SaveJob stores or replaces a job.
func (s *Store) SaveJob(ctx context.Context, job *core.IngestionJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job requires an id", storage.ErrInvalidQuery)
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return s.backend.WithTx(func(tx *badger.Txn) error {
		return SetJSON(tx, makeJobKey(job.ID), job)
	}, true)
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	var job core.IngestionJob
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return GetJSON(tx, makeJobKey(id), &job)
	}, false)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs in any of the given states, oldest first.
func (s *Store) ListJobs(ctx context.Context, states ...core.JobState) ([]*core.IngestionJob, error) {
	var jobs []*core.IngestionJob
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return ScanPrefix(tx, MakeKey(jobPrefix), func(_, value []byte) error {
			var job core.IngestionJob
			if err := decode(value, &job); err != nil {
				return err
			}
			if len(states) == 0 || slices.Contains(states, job.State) {
				jobs = append(jobs, &job)
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(jobs, func(a, b *core.IngestionJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, nil
}
