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

// Package ragify wires the ingestion and retrieval components into a single
// Engine configured from a config.Config.
//
// Components can also be constructed individually from their packages; the
// Engine only chooses backends and owns their lifecycle.
package ragify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/ragify/ai"
	"github.com/poiesic/ragify/ai/openai"
	"github.com/poiesic/ragify/chunk"
	"github.com/poiesic/ragify/config"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
	ib "github.com/poiesic/ragify/index/badger"
	"github.com/poiesic/ragify/index/milvus"
	"github.com/poiesic/ragify/index/qdrant"
	"github.com/poiesic/ragify/ingestion"
	"github.com/poiesic/ragify/metrics"
	"github.com/poiesic/ragify/objectstore"
	"github.com/poiesic/ragify/objectstore/minio"
	"github.com/poiesic/ragify/reindex"
	"github.com/poiesic/ragify/retrieval"
	"github.com/poiesic/ragify/storage"
	sb "github.com/poiesic/ragify/storage/badger"
	"github.com/poiesic/ragify/storage/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrConfigRequired is returned by Open when no configuration is given.
var ErrConfigRequired = errors.New("config is required")

// Engine owns every component of a ragify process.
type Engine struct {
	cfg *config.Config

	store    storage.Store
	index    *index.Manager
	provider ai.AIProvider
	embedder *ai.BatchEmbedder
	objects  objectstore.Store

	orchestrator *ingestion.Orchestrator
	queue        *ingestion.Queue
	reconciler   *ingestion.Reconciler
	retriever    *retrieval.Retriever
	assistant    *retrieval.Assistant
	metrics      *metrics.Collector

	closers []func() error
	logger  *slog.Logger
}

// Option overrides a component the Engine would otherwise build from config.
type Option func(*engineOptions) error

type engineOptions struct {
	store    storage.Store
	backend  index.Backend
	provider ai.AIProvider
	objects  objectstore.Store
	registry prometheus.Registerer
	logger   *slog.Logger
}

// WithStore uses store instead of the configured metadata store.
// The Engine closes it.
func WithStore(store storage.Store) Option {
	return func(o *engineOptions) error {
		o.store = store
		return nil
	}
}

// WithIndexBackend uses backend instead of the configured vector index.
// The Engine closes it.
func WithIndexBackend(backend index.Backend) Option {
	return func(o *engineOptions) error {
		o.backend = backend
		return nil
	}
}

// WithProvider uses provider instead of the OpenAI-compatible one.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *engineOptions) error {
		o.provider = provider
		return nil
	}
}

// WithObjectStore uploads original files to objects regardless of config.
func WithObjectStore(objects objectstore.Store) Option {
	return func(o *engineOptions) error {
		o.objects = objects
		return nil
	}
}

// WithMetrics registers ingestion, retrieval and queue metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *engineOptions) error {
		o.registry = reg
		return nil
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) error {
		o.logger = logger
		return nil
	}
}

// Open builds an Engine. The vector index must answer a ping; everything
// opened before a failure is closed again.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Engine, err error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	e := &Engine{cfg: cfg, logger: options.logger.With("component", "engine")}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	var shared *sb.Backend
	if e.store, shared, err = openStore(ctx, cfg, options.store); err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	if shared != nil {
		e.closers = append(e.closers, shared.Close)
	}
	e.closers = append(e.closers, e.store.Close)

	backend, err := openIndex(ctx, cfg, options.backend, shared)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	e.index, err = index.NewManager(backend,
		index.WithCollectionPrefix(cfg.Index.CollectionPrefix),
		index.WithBatchSize(cfg.Index.BatchSize),
		index.WithContentHashIDs(cfg.Index.ContentHashIDs),
		index.WithConnectRetry(cfg.Index.ConnectAttempts, cfg.Index.ConnectInterval),
		index.WithLogger(options.logger),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}
	e.closers = append(e.closers, e.index.Close)
	if err := e.index.Connect(ctx); err != nil {
		return nil, err
	}

	e.provider = options.provider
	if e.provider == nil {
		if e.provider, err = openai.NewProvider(cfg.ProviderConfig()); err != nil {
			return nil, fmt.Errorf("create ai provider: %w", err)
		}
	}
	e.closers = append(e.closers, e.provider.Close)

	e.embedder, err = ai.NewBatchEmbedder(e.provider.Embedder(),
		ai.WithBatchSize(cfg.AI.BatchSize),
		ai.WithConcurrency(cfg.AI.Concurrency),
		ai.WithVectorDimensions(e.provider.Dimensions()),
		ai.WithBatchLogger(options.logger),
	)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() error { e.embedder.Release(); return nil })

	e.objects = options.objects
	if e.objects == nil && cfg.Objects.Enabled {
		if e.objects, err = minio.New(ctx, minio.Config{
			Endpoint:  cfg.Objects.Endpoint,
			AccessKey: cfg.Objects.AccessKey,
			SecretKey: cfg.Objects.SecretKey,
			Bucket:    cfg.Objects.Bucket,
			Region:    cfg.Objects.Region,
			UseSSL:    cfg.Objects.UseSSL,
		}); err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
	}

	if options.registry != nil {
		if e.metrics, err = metrics.NewCollector(options.registry); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if err := e.buildIngestion(options.logger); err != nil {
		return nil, err
	}
	if err := e.buildRetrieval(options.logger); err != nil {
		return nil, err
	}
	e.logger.Info("engine ready", "store", cfg.Store.Driver, "index", cfg.Index.Driver,
		"objects", e.objects != nil, "metrics", e.metrics != nil)
	return e, nil
}

func openStore(ctx context.Context, cfg *config.Config, given storage.Store) (storage.Store, *sb.Backend, error) {
	if given != nil {
		return given, nil, nil
	}
	switch cfg.Store.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Store.DSN)
		return store, nil, err
	default:
		backend, err := sb.OpenBackend(cfg.Store.Path, false)
		if err != nil {
			return nil, nil, err
		}
		store, err := sb.NewStoreWithBackend(backend)
		if err != nil {
			backend.Close()
			return nil, nil, err
		}
		return store, backend, nil
	}
}

// openIndex builds the configured backend. The badger index lives in the
// metadata store's database when one is open, otherwise under Index.Path.
func openIndex(ctx context.Context, cfg *config.Config, given index.Backend, shared *sb.Backend) (index.Backend, error) {
	if given != nil {
		return given, nil
	}
	switch cfg.Index.Driver {
	case "qdrant":
		return qdrant.New(cfg.Index.Qdrant.URL,
			qdrant.WithAPIKey(cfg.Index.Qdrant.APIKey),
			qdrant.WithTimeout(cfg.Index.Qdrant.Timeout))
	case "milvus":
		return milvus.New(ctx, milvus.Config{
			Address:  cfg.Index.Milvus.Address,
			Database: cfg.Index.Milvus.Database,
			Username: cfg.Index.Milvus.Username,
			Password: cfg.Index.Milvus.Password,
			UseTLS:   cfg.Index.Milvus.UseTLS,
		})
	default:
		if shared != nil {
			return ib.New(shared)
		}
		if cfg.Index.Path == "" {
			return nil, errors.New("index path is required when the metadata store is not badger")
		}
		return ib.Open(cfg.Index.Path, false)
	}
}

func (e *Engine) buildIngestion(logger *slog.Logger) error {
	chunker, err := chunk.New(
		chunk.WithChunkSize(e.cfg.Chunking.Size),
		chunk.WithOverlap(e.cfg.Chunking.Overlap),
		chunk.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	opts := []ingestion.Option{
		ingestion.WithEmbedRetry(e.cfg.Ingestion.EmbedAttempts, e.cfg.Ingestion.EmbedDelay),
		ingestion.WithLogger(logger),
	}
	if e.objects != nil {
		opts = append(opts, ingestion.WithObjectStore(e.objects))
	}
	if e.metrics != nil {
		opts = append(opts, ingestion.WithObserver(e.metrics))
	}
	if e.orchestrator, err = ingestion.New(e.store, chunker, e.embedder, e.index, opts...); err != nil {
		return err
	}

	if e.queue, err = ingestion.NewQueue(e.orchestrator, e.store,
		ingestion.WithWorkers(e.cfg.Ingestion.Workers),
		ingestion.WithCapacity(e.cfg.Ingestion.QueueCapacity),
		ingestion.WithQueueLogger(logger),
	); err != nil {
		return err
	}
	e.closers = append(e.closers, func() error { e.queue.Release(); return nil })

	reconcilerOpts := []ingestion.ReconcilerOption{
		ingestion.WithGracePeriod(e.cfg.Ingestion.GracePeriod),
		ingestion.WithReconcilerLogger(logger),
	}
	if e.metrics != nil {
		if err := e.metrics.WatchQueue(e.queue); err != nil {
			return err
		}
		reconcilerOpts = append(reconcilerOpts, ingestion.WithReportFunc(e.metrics.ObserveReconcile))
	}
	e.reconciler, err = ingestion.NewReconciler(e.store, e.index, reconcilerOpts...)
	return err
}

func (e *Engine) buildRetrieval(logger *slog.Logger) error {
	opts := []retrieval.Option{
		retrieval.WithKeywordBoost(e.cfg.Retrieval.KeywordBoost),
		retrieval.WithLogger(logger),
	}
	if e.cfg.Retrieval.MinScore != nil {
		opts = append(opts, retrieval.WithMinScore(*e.cfg.Retrieval.MinScore))
	}
	var err error
	if e.retriever, err = retrieval.NewRetriever(e.embedder, e.index, opts...); err != nil {
		return err
	}
	synthesizer, err := retrieval.NewSynthesizer(e.provider.Generator(),
		retrieval.WithMaxContextChars(e.cfg.Retrieval.MaxContextChars),
		retrieval.WithSynthesizerLogger(logger),
	)
	if err != nil {
		return err
	}
	e.assistant, err = retrieval.NewAssistant(e.retriever, synthesizer)
	return err
}

// Close releases every component in reverse order of creation.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Error("error closing component", "err", err)
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Ingest runs a document through the pipeline synchronously.
func (e *Engine) Ingest(ctx context.Context, req ingestion.IngestRequest) (*ingestion.Result, error) {
	return e.orchestrator.Ingest(ctx, req)
}

// Submit queues a document for background ingestion.
func (e *Engine) Submit(ctx context.Context, req ingestion.IngestRequest) (*core.IngestionJob, error) {
	return e.queue.Submit(ctx, req)
}

// Status returns a queued job.
func (e *Engine) Status(ctx context.Context, jobID string) (*core.IngestionJob, error) {
	return e.queue.Status(ctx, jobID)
}

// Retrieve returns up to limit chunks relevant to query. A limit of zero
// uses the configured default.
func (e *Engine) Retrieve(ctx context.Context, tenant core.Tenant, query string, limit int) ([]core.RetrievalResult, error) {
	return e.retriever.RetrieveWithMonitor(ctx, tenant, query, e.limit(limit), e.monitor())
}

// Ask retrieves and synthesizes an answer.
func (e *Engine) Ask(ctx context.Context, tenant core.Tenant, query string, limit int) (*core.ConversationTurn, error) {
	return e.assistant.AskWithMonitor(ctx, tenant, query, e.limit(limit), e.monitor())
}

func (e *Engine) limit(n int) int {
	if n <= 0 {
		return e.cfg.Retrieval.Limit
	}
	return n
}

func (e *Engine) monitor() retrieval.Monitor {
	if e.metrics == nil {
		return nil
	}
	return e.metrics
}

// Delete removes a document with its chunks, points and stored file.
func (e *Engine) Delete(ctx context.Context, tenant core.Tenant, documentID string) error {
	return e.orchestrator.Delete(ctx, tenant, documentID)
}

// DeleteByFileName removes the tenant's document named fileName.
func (e *Engine) DeleteByFileName(ctx context.Context, tenant core.Tenant, fileName string) error {
	return e.orchestrator.DeleteByFileName(ctx, tenant, fileName)
}

// List returns the tenant's documents.
func (e *Engine) List(ctx context.Context, tenant core.Tenant) ([]*core.SourceDocument, error) {
	return e.orchestrator.List(ctx, tenant)
}

// Stats counts the tenant's documents and chunks.
func (e *Engine) Stats(ctx context.Context, tenant core.Tenant) (*core.TenantStats, error) {
	return e.orchestrator.Stats(ctx, tenant)
}

// Reconcile runs one reconciliation pass.
func (e *Engine) Reconcile(ctx context.Context) (*ingestion.ReconcileReport, error) {
	return e.reconciler.Reconcile(ctx)
}

// Reindex re-embeds every chunk of tenant, printing progress to out.
func (e *Engine) Reindex(ctx context.Context, tenant core.Tenant, rc *reindex.Config, out io.Writer) (*reindex.Report, error) {
	r, err := reindex.New(e.store, e.provider.Embedder(), e.index, rc, out)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, tenant)
}

// Config returns the configuration the Engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Queue returns the background ingestion queue.
func (e *Engine) Queue() *ingestion.Queue { return e.queue }

// Reconciler returns the orphaned-point reconciler.
func (e *Engine) Reconciler() *ingestion.Reconciler { return e.reconciler }

// Metrics returns the metrics collector, or nil when metrics are disabled.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }
