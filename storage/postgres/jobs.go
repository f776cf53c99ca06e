package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/storage"
)

const jobColumns = `id, tenant_id, state, failed_stage, error, attempts, chunks, document, raw_text, created_at, updated_at`

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

	var document []byte
	if job.Document != nil {
		var err error
		if document, err = json.Marshal(job.Document); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
	}
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO ingestion_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			failed_stage = EXCLUDED.failed_stage,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			chunks = EXCLUDED.chunks,
			document = EXCLUDED.document,
			raw_text = EXCLUDED.raw_text,
			updated_at = EXCLUDED.updated_at`,
		job.ID, job.TenantID, string(job.State), string(job.FailedStage), job.Error,
		job.Attempts, job.Chunks, document, job.RawText, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func scanJob(row rowScanner) (*core.IngestionJob, error) {
	var (
		job      core.IngestionJob
		document []byte
	)
	err := row.Scan(&job.ID, &job.TenantID, &job.State, &job.FailedStage, &job.Error,
		&job.Attempts, &job.Chunks, &document, &job.RawText, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	if len(document) > 0 {
		job.Document = &core.SourceDocument{}
		if err := json.Unmarshal(document, job.Document); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
	}
	return &job, nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListJobs returns jobs in any of the given states, oldest first.
func (s *Store) ListJobs(ctx context.Context, states ...core.JobState) ([]*core.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs`
	var args []any
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, st := range states {
			names[i] = string(st)
		}
		query += ` WHERE state = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY created_at`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
