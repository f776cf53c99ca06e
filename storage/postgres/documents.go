package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/storage"
)

const documentColumns = `id, tenant_id, file_name, media_type, format, size_bytes, origin_url, content_key, public_id, created_at`

const chunkColumns = `id, document_id, tenant_id, file_name, position, page_number, text, vector`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*core.SourceDocument, error) {
	var doc core.SourceDocument
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.FileName, &doc.MediaType, &doc.Format,
		&doc.SizeBytes, &doc.OriginURL, &doc.ContentKey, &doc.PublicID, &doc.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}

func scanChunk(row rowScanner) (*core.Chunk, error) {
	var (
		c      core.Chunk
		id     int64
		vector []byte
	)
	if err := row.Scan(&id, &c.DocumentID, &c.TenantID, &c.FileName, &c.Position, &c.PageNumber, &c.Text, &vector); err != nil {
		return nil, translate(err)
	}
	c.ID = core.ID(id)
	v, err := core.DecodeVector(vector)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	c.Vector = v
	return &c, nil
}

// CreateDocument stores a document with its chunks and clears its index intent in one transaction.
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
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		_, err := db.ExecContext(ctx,
			`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			doc.ID, doc.TenantID, doc.FileName, doc.MediaType, string(doc.Format),
			doc.SizeBytes, doc.OriginURL, doc.ContentKey, doc.PublicID, doc.CreatedAt)
		if err != nil {
			return translate(err)
		}
		for _, c := range chunks {
			_, err := db.ExecContext(ctx,
				`INSERT INTO chunks (`+chunkColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				int64(c.ID), c.DocumentID, c.TenantID, c.FileName, c.Position, c.PageNumber, c.Text, core.EncodeVector(c.Vector))
			if err != nil {
				return translate(err)
			}
		}
		_, err = db.ExecContext(ctx, `DELETE FROM index_intents WHERE document_id = $1`, doc.ID)
		return err
	})
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, tenantID, documentID string) (*core.SourceDocument, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND id = $2`, tenantID, documentID)
	return scanDocument(row)
}

// FindDocumentByFileName retrieves a tenant's document by file name.
func (s *Store) FindDocumentByFileName(ctx context.Context, tenantID, fileName string) (*core.SourceDocument, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND file_name = $2`, tenantID, fileName)
	return scanDocument(row)
}

// ListDocuments returns a tenant's documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context, tenantID string) ([]*core.SourceDocument, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*core.SourceDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...any) ([]*core.Chunk, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunks returns a document's chunks ordered by position.
func (s *Store) GetChunks(ctx context.Context, tenantID, documentID string) ([]*core.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = $1 AND document_id = $2 ORDER BY position`,
		tenantID, documentID)
}

// ForEachChunkBatch pages through a tenant's chunks with keyset pagination.
func (s *Store) ForEachChunkBatch(ctx context.Context, tenantID string, batchSize int, fn func([]*core.Chunk) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}
	lastDoc, lastPos := "", -1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.queryChunks(ctx,
			`SELECT `+chunkColumns+` FROM chunks
			WHERE tenant_id = $1 AND (document_id, position) > ($2, $3)
			ORDER BY document_id, position LIMIT $4`,
			tenantID, lastDoc, lastPos, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		last := batch[len(batch)-1]
		lastDoc, lastPos = last.DocumentID, last.Position
	}
}

// UpdateChunkVectors replaces the stored vectors of existing chunks.
func (s *Store) UpdateChunkVectors(ctx context.Context, chunks []*core.Chunk) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		for _, c := range chunks {
			res, err := s.conn(ctx).ExecContext(ctx,
				`UPDATE chunks SET vector = $1 WHERE document_id = $2 AND position = $3`,
				core.EncodeVector(c.Vector), c.DocumentID, c.Position)
			if err != nil {
				return fmt.Errorf("failed to update chunk %d: %w", c.ID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: chunk %d", storage.ErrNotFound, c.ID)
			}
		}
		return nil
	})
}

// DeleteChunks removes all chunks of a document.
func (s *Store) DeleteChunks(ctx context.Context, tenantID, documentID string) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM chunks WHERE tenant_id = $1 AND document_id = $2`, tenantID, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// DeleteDocument removes a document; remaining chunks go with it by cascade.
func (s *Store) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM documents WHERE tenant_id = $1 AND id = $2`, tenantID, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Stats counts a tenant's documents and chunks.
func (s *Store) Stats(ctx context.Context, tenantID string) (*core.TenantStats, error) {
	stats := &core.TenantStats{TenantID: tenantID}
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM documents WHERE tenant_id = $1),
		        (SELECT COUNT(*) FROM chunks WHERE tenant_id = $1)`, tenantID).
		Scan(&stats.Documents, &stats.Chunks)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to count tenant content: %w", err)
	}
	return stats, nil
}
