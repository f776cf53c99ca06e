package retrieval

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/ragify/core"
)

// DefaultLimit is the number of results returned when a caller passes no limit.
const DefaultLimit = 5

// QueryEmbedder embeds a single query. ai.Embedder and *ai.BatchEmbedder
// both satisfy it.
type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Index searches a tenant's collection. *index.Manager satisfies it.
type Index interface {
	Search(ctx context.Context, tenant core.Tenant, vector []float32, limit int) ([]core.ScoredPoint, error)
}

// Retriever finds the chunks most similar to a query.
type Retriever struct {
	embedder     QueryEmbedder
	index        Index
	minScore     float32
	filter       bool
	keywordBoost float32
	logger       *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithMinScore drops results scoring below score.
// By default everything the index returns is kept.
func WithMinScore(score float32) Option {
	return func(r *Retriever) error {
		r.minScore = score
		r.filter = true
		return nil
	}
}

// WithKeywordBoost multiplies the score of results containing every keyword
// of the query by factor, then reorders. Default is 1, which disables it.
func WithKeywordBoost(factor float32) Option {
	return func(r *Retriever) error {
		if factor < 1 {
			return errors.New("keyword boost must be at least 1")
		}
		r.keywordBoost = factor
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRetriever creates a retriever.
func NewRetriever(embedder QueryEmbedder, index Index, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	r := &Retriever{
		embedder:     embedder,
		index:        index,
		keywordBoost: 1,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever")
	return r, nil
}

// Retrieve returns up to limit results for query, highest score first.
// A blank query fails with core.ErrInvalidQuery before any backend call.
// A tenant without indexed documents has no results.
func (r *Retriever) Retrieve(ctx context.Context, tenant core.Tenant, query string, limit int) ([]core.RetrievalResult, error) {
	return r.RetrieveWithMonitor(ctx, tenant, query, limit, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each step.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, tenant core.Tenant, query string, limit int, monitor Monitor) (results []core.RetrievalResult, err error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	start := time.Now()
	monitor.Start(tenant, query)
	defer func() { monitor.Finish(results, err, time.Since(start)) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.ErrInvalidQuery
	}
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	vector, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		r.logger.Error("error generating embedding for query", "tenant", tenant.ID, "err", err)
		return nil, err
	}
	monitor.AfterEmbedding(len(vector))

	points, err := r.index.Search(ctx, tenant, vector, limit)
	if err != nil {
		r.logger.Error("error searching index", "tenant", tenant.ID, "err", err)
		return nil, err
	}
	monitor.AfterSearch(points)

	results = make([]core.RetrievalResult, 0, len(points))
	for _, p := range points {
		if r.filter && p.Score < r.minScore {
			continue
		}
		result := core.RetrievalResult{
			Text:       p.Payload.Text,
			FileName:   p.Payload.FileName,
			PageNumber: p.Payload.PageNumber,
			Score:      p.Score,
		}
		if r.keywordBoost > 1 && containsAllKeywords(result.Text, query) {
			result.Score *= r.keywordBoost
			monitor.KeywordHit(result)
		}
		results = append(results, result)
	}

	slices.SortStableFunc(results, func(a, b core.RetrievalResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	r.logger.Debug("retrieved results", "tenant", tenant.ID, "results", len(results), "candidates", len(points))
	return results, nil
}
