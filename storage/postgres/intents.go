package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/storage"
)

// SaveIntent stores or replaces a document's index intent.
func (s *Store) SaveIntent(ctx context.Context, intent *core.IndexIntent) error {
	if intent == nil || intent.DocumentID == "" {
		return fmt.Errorf("%w: intent requires a document id", storage.ErrInvalidQuery)
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	ids := make([]int64, len(intent.PointIDs))
	for i, id := range intent.PointIDs {
		ids[i] = int64(id)
	}
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO index_intents (document_id, tenant_id, collection, file_name, point_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			collection = EXCLUDED.collection,
			file_name = EXCLUDED.file_name,
			point_ids = EXCLUDED.point_ids,
			created_at = EXCLUDED.created_at`,
		intent.DocumentID, intent.TenantID, intent.Collection, intent.FileName, pq.Array(ids), intent.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save intent: %w", err)
	}
	return nil
}

// ListIntents returns intents created before olderThan, oldest first.
func (s *Store) ListIntents(ctx context.Context, olderThan time.Time) ([]*core.IndexIntent, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT document_id, tenant_id, collection, file_name, point_ids, created_at
		FROM index_intents WHERE created_at < $1 ORDER BY created_at`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var intents []*core.IndexIntent
	for rows.Next() {
		var (
			intent core.IndexIntent
			ids    pq.Int64Array
		)
		if err := rows.Scan(&intent.DocumentID, &intent.TenantID, &intent.Collection,
			&intent.FileName, &ids, &intent.CreatedAt); err != nil {
			return nil, err
		}
		for _, id := range ids {
			intent.PointIDs = append(intent.PointIDs, core.ID(id))
		}
		intents = append(intents, &intent)
	}
	return intents, rows.Err()
}

// DeleteIntent removes a document's index intent.
func (s *Store) DeleteIntent(ctx context.Context, documentID string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM index_intents WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete intent: %w", err)
	}
	return nil
}
