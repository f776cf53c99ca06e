package reindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/ragify/ai"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
	"github.com/poiesic/ragify/retry"
	"github.com/poiesic/ragify/storage"
)

// Config controls a reindex run.
type Config struct {
	// BatchSize is the number of chunks fetched and embedded per call.
	BatchSize int

	// ReportInterval is the number of chunks between progress lines.
	ReportInterval int

	// MaxRetries bounds the attempts per batch for embedding and upserting.
	MaxRetries int

	// RetryDelay is the base delay, doubled on each retry.
	RetryDelay time.Duration

	// Normalize scales vectors to unit length before they are written.
	Normalize bool
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		Normalize:      true,
	}
}

// Report summarizes a finished run.
type Report struct {
	TenantID string
	Chunks   int
	Batches  int
	Elapsed  time.Duration
}

// Reindexer re-embeds a tenant's stored chunks and writes them to the vector index.
type Reindexer struct {
	store    storage.DocumentRepository
	embedder ai.Embedder
	index    *index.Manager
	config   *Config
	out      io.Writer
	logger   *slog.Logger
}

// New creates a Reindexer. A nil config uses DefaultConfig, and progress
// lines go to out, which may be nil.
func New(store storage.DocumentRepository, embedder ai.Embedder, manager *index.Manager, config *Config, out io.Writer) (*Reindexer, error) {
	switch {
	case store == nil:
		return nil, ErrStoreRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	case manager == nil:
		return nil, ErrIndexRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = defaults.ReportInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if out == nil {
		out = io.Discard
	}
	return &Reindexer{
		store:    store,
		embedder: embedder,
		index:    manager,
		config:   &cfg,
		out:      out,
		logger:   slog.Default().With("component", "reindexer"),
	}, nil
}

// Run reindexes every chunk of tenant. It stops at the first batch that
// still fails after retries; chunks already written stay updated.
func (r *Reindexer) Run(ctx context.Context, tenant core.Tenant) (*Report, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	stats, err := r.store.Stats(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	report := &Report{TenantID: tenant.ID}
	if stats.Chunks == 0 {
		fmt.Fprintf(r.out, "Nothing to reindex: tenant %s has 0 chunks\n", tenant.ID)
		return report, nil
	}

	fmt.Fprintf(r.out, "Reindexing %d chunks of tenant %s...\n", stats.Chunks, tenant.ID)
	progress := NewProgress(r.out, stats.Chunks, r.config.ReportInterval)
	progress.Start()
	r.logger.Info("reindex started", "tenant", tenant.ID, "chunks", stats.Chunks)

	ensured := false
	err = r.store.ForEachChunkBatch(ctx, tenant.ID, r.config.BatchSize, func(chunks []*core.Chunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.embed(ctx, chunks); err != nil {
			return err
		}
		if !ensured {
			if _, err := r.index.EnsureCollection(ctx, tenant, len(chunks[0].Vector)); err != nil {
				return err
			}
			ensured = true
		}
		if err := r.write(ctx, tenant, chunks); err != nil {
			return err
		}
		report.Batches++
		report.Chunks += len(chunks)
		progress.Add(len(chunks))
		return nil
	})
	progress.Finish(err == nil)
	report.Elapsed = progress.Elapsed()
	if err != nil {
		r.logger.Error("reindex failed", "tenant", tenant.ID, "chunks", report.Chunks, "err", err)
		return report, fmt.Errorf("reindex tenant %s after %d chunks: %w", tenant.ID, report.Chunks, err)
	}
	r.logger.Info("reindex finished", "tenant", tenant.ID, "chunks", report.Chunks, "elapsed", report.Elapsed)
	return report, nil
}

func (r *Reindexer) embed(ctx context.Context, chunks []*core.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var vectors [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var err error
		vectors, err = r.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			r.logger.Warn("embedding batch failed", "chunks", len(texts), "err", err)
		}
		return err
	}, r.config.MaxRetries, r.config.RetryDelay)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d texts, %d vectors", ErrVectorCountMismatch, len(chunks), len(vectors))
	}
	for i, c := range chunks {
		v := vectors[i]
		if len(v) == 0 || len(v) != len(vectors[0]) {
			return fmt.Errorf("%w: chunk %d has %d dimensions", core.ErrDimensionMismatch, c.ID, len(v))
		}
		if r.config.Normalize {
			v = core.NormalizeVector(v)
		}
		c.Vector = v
	}
	return nil
}

// write upserts the points before updating the store, so a failure in
// between leaves the index ahead of the store and a rerun converges.
func (r *Reindexer) write(ctx context.Context, tenant core.Tenant, chunks []*core.Chunk) error {
	points := make([]core.VectorPoint, len(chunks))
	for i, c := range chunks {
		points[i] = c.Point()
	}
	err := retry.WithBackoff(ctx, func() error {
		_, err := r.index.Upsert(ctx, tenant, points)
		return err
	}, r.config.MaxRetries, r.config.RetryDelay)
	if err != nil {
		return err
	}
	if err := r.store.UpdateChunkVectors(ctx, chunks); err != nil {
		return fmt.Errorf("update stored vectors: %w", err)
	}
	return nil
}
