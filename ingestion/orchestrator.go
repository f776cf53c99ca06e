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

package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/ragify/ai"
	"github.com/poiesic/ragify/chunk"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
	"github.com/poiesic/ragify/objectstore"
	"github.com/poiesic/ragify/retry"
	"github.com/poiesic/ragify/storage"
)

const (
	// DefaultEmbedAttempts is the number of embedding attempts per request.
	DefaultEmbedAttempts = 3

	// DefaultEmbedDelay is the delay before the first embedding retry. It doubles after each attempt.
	DefaultEmbedDelay = 500 * time.Millisecond
)

// IngestRequest is one document to ingest.
type IngestRequest struct {
	Tenant   core.Tenant
	Document *core.SourceDocument
	// RawText is the extracted text. PDF text is page-delimited by form feeds.
	RawText string
	// Content is the original file. It is uploaded when an object store is
	// configured and ignored otherwise.
	Content []byte
}

// Result is a committed document together with its chunks.
type Result struct {
	Document *core.SourceDocument
	Chunks   []*core.Chunk
}

// Orchestrator runs ingestion requests and document deletions across the
// metadata store, the vector index and the optional object store.
type Orchestrator struct {
	store      storage.Store
	chunker    *chunk.Chunker
	embedder   *ai.BatchEmbedder
	index      *index.Manager
	objects    objectstore.Store
	observers  observers
	embedRetry retry.Policy
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithObjectStore uploads request content before the metadata commit and
// removes it when the document is deleted.
func WithObjectStore(objects objectstore.Store) Option {
	return func(o *Orchestrator) error {
		o.objects = objects
		return nil
	}
}

// WithObserver adds an observer notified of every request's transitions.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) error {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
		return nil
	}
}

// WithEmbedRetry sets the embedding attempt budget and the initial backoff delay.
// Default is DefaultEmbedAttempts and DefaultEmbedDelay.
func WithEmbedRetry(attempts int, delay time.Duration) Option {
	return func(o *Orchestrator) error {
		if attempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		o.embedRetry = retry.Policy{MaxAttempts: attempts, Delay: delay, Exponential: true}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// New creates an orchestrator.
func New(store storage.Store, chunker *chunk.Chunker, embedder *ai.BatchEmbedder, manager *index.Manager, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if chunker == nil {
		return nil, ErrChunkerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if manager == nil {
		return nil, ErrIndexRequired
	}

	o := &Orchestrator{
		store:    store,
		chunker:  chunker,
		embedder: embedder,
		index:    manager,
		embedRetry: retry.Policy{
			MaxAttempts: DefaultEmbedAttempts,
			Delay:       DefaultEmbedDelay,
			Exponential: true,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "ingestion")
	return o, nil
}

// Ingest runs req to completion. On failure the error is a *core.IngestionError
// naming the failed stage.
//
// Canceling ctx does not interrupt backend calls already started. The request
// still ends in either the done or the failed state.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*Result, error) {
	return o.IngestWithObserver(ctx, req, nil)
}

// IngestWithObserver is Ingest with an extra observer for this request only.
func (o *Orchestrator) IngestWithObserver(ctx context.Context, req IngestRequest, observer Observer) (*Result, error) {
	r := &run{
		o:        o,
		ctx:      ctx,
		bctx:     context.WithoutCancel(ctx),
		req:      req,
		observer: append(observers{observer}, o.observers...),
		start:    time.Now(),
	}
	return r.execute()
}

// run carries the state of one ingestion request.
type run struct {
	o        *Orchestrator
	ctx      context.Context // caller's context, checked between stages
	bctx     context.Context // backend calls
	req      IngestRequest
	doc      *core.SourceDocument
	chunks   []*core.Chunk
	observer observers
	start    time.Time
}

func (r *run) execute() (*Result, error) {
	if err := r.validate(); err != nil {
		return nil, r.fail(core.StageValidate, err)
	}
	r.transition(core.StateReceived)

	if err := r.chunk(); err != nil {
		return nil, r.fail(core.StageChunk, err)
	}
	r.transition(core.StateChunked)

	if err := r.embed(); err != nil {
		return nil, r.fail(core.StageEmbed, err)
	}
	r.transition(core.StateEmbedded)

	if err := r.index(); err != nil {
		return nil, r.fail(core.StageIndex, err)
	}
	r.transition(core.StateIndexed)

	if err := r.persist(); err != nil {
		return nil, r.fail(core.StagePersist, err)
	}
	r.transition(core.StatePersisted)
	r.transition(core.StateDone)

	r.o.logger.Info("document ingested",
		"tenant", r.doc.TenantID, "document", r.doc.ID, "file", r.doc.FileName,
		"chunks", len(r.chunks), "elapsed", time.Since(r.start))
	return &Result{Document: r.doc, Chunks: r.chunks}, nil
}

func (r *run) event(state core.JobState) Event {
	ev := Event{
		State:   state,
		Chunks:  len(r.chunks),
		Elapsed: time.Since(r.start),
	}
	if r.doc != nil {
		ev.DocumentID = r.doc.ID
		ev.TenantID = r.doc.TenantID
		ev.FileName = r.doc.FileName
	} else if r.req.Document != nil {
		ev.DocumentID = r.req.Document.ID
		ev.TenantID = r.req.Tenant.ID
		ev.FileName = r.req.Document.FileName
	}
	return ev
}

func (r *run) transition(state core.JobState) {
	r.o.logger.Debug("ingestion transition", "document", r.doc.ID, "state", state)
	r.observer.Observe(r.event(state))
}

func (r *run) fail(stage core.Stage, err error) error {
	ev := r.event(core.StateFailed)
	ev.Stage = stage
	ev.Err = err
	r.o.logger.Warn("ingestion failed", "tenant", ev.TenantID, "document", ev.DocumentID,
		"file", ev.FileName, "stage", stage, "err", err)
	r.observer.Observe(ev)
	return &core.IngestionError{DocumentID: ev.DocumentID, Stage: stage, Err: err}
}

func (r *run) checkCanceled() error {
	return r.ctx.Err()
}

func (r *run) validate() error {
	if err := core.ValidateTenant(r.req.Tenant); err != nil {
		return err
	}
	if r.req.Document == nil {
		return fmt.Errorf("%w: document is nil", core.ErrInvalidDocument)
	}

	doc := *r.req.Document
	if doc.TenantID == "" {
		doc.TenantID = r.req.Tenant.ID
	}
	if doc.TenantID != r.req.Tenant.ID {
		return fmt.Errorf("%w: document belongs to tenant %q", core.ErrInvalidDocument, doc.TenantID)
	}
	if err := core.ValidateSourceDocument(&doc); err != nil {
		return err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	} else if _, err := uuid.Parse(doc.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", core.ErrInvalidDocument, doc.ID)
	}
	if doc.Format == "" {
		doc.Format = core.FormatFromFileName(doc.FileName)
	}
	if doc.MediaType == "" {
		doc.MediaType = doc.Format.MediaType()
	}
	if doc.SizeBytes == 0 {
		doc.SizeBytes = int64(len(r.req.Content))
		if doc.SizeBytes == 0 {
			doc.SizeBytes = int64(len(r.req.RawText))
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	r.doc = &doc

	existing, err := r.o.store.FindDocumentByFileName(r.bctx, doc.TenantID, doc.FileName)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s already stored as %s", core.ErrDuplicateDocument, doc.FileName, existing.ID)
	case errors.Is(err, storage.ErrNotFound):
		return r.checkCanceled()
	default:
		return err
	}
}

func (r *run) chunk() error {
	texts, err := r.o.chunker.Split(r.req.RawText, r.doc.Format)
	if err != nil {
		return err
	}

	r.chunks = make([]*core.Chunk, len(texts))
	for i, t := range texts {
		r.chunks[i] = &core.Chunk{
			ID:         core.ChunkID(r.doc.ID, i),
			DocumentID: r.doc.ID,
			TenantID:   r.doc.TenantID,
			FileName:   r.doc.FileName,
			Position:   i,
			PageNumber: t.PageNumber,
			Text:       t.Text,
		}
	}
	return r.checkCanceled()
}

// embed retries only the batches that failed, with exponential backoff.
func (r *run) embed() error {
	texts := make([]string, len(r.chunks))
	for i, c := range r.chunks {
		texts[i] = c.Text
	}

	var (
		partial [][]float32
		vectors [][]float32
		attempt int
	)
	err := retry.Do(r.bctx, r.o.embedRetry, func(ctx context.Context) error {
		attempt++
		vecs, err := r.o.embedder.Resume(ctx, texts, partial)
		if err == nil {
			vectors = vecs
			return nil
		}
		var embErr *core.EmbeddingError
		if errors.As(err, &embErr) {
			partial = embErr.Partial
			r.o.logger.Warn("embedding incomplete", "document", r.doc.ID,
				"attempt", attempt, "failed_batches", len(embErr.Failures))
			return err
		}
		if errors.Is(err, core.ErrDimensionMismatch) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}

	for i, v := range vectors {
		r.chunks[i].Vector = v
	}
	return r.checkCanceled()
}

// index writes the intent, then the points. Points written by a failed
// upsert are removed again; if that fails too, the intent is left for the
// reconciler.
func (r *run) index() error {
	tenant := core.Tenant{ID: r.doc.TenantID}
	ids := make([]core.ID, len(r.chunks))
	points := make([]core.VectorPoint, len(r.chunks))
	for i, c := range r.chunks {
		ids[i] = c.ID
		points[i] = c.Point()
	}

	intent := &core.IndexIntent{
		DocumentID: r.doc.ID,
		TenantID:   r.doc.TenantID,
		Collection: r.o.index.CollectionName(tenant),
		FileName:   r.doc.FileName,
		PointIDs:   ids,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.o.store.SaveIntent(r.bctx, intent); err != nil {
		return fmt.Errorf("failed to save index intent: %w", err)
	}

	dim := len(r.chunks[0].Vector)
	collection, err := r.o.index.EnsureCollection(r.bctx, tenant, dim)
	if err != nil {
		r.dropIntent()
		return err
	}
	intent.Collection = collection

	if _, err := r.o.index.Upsert(r.bctx, tenant, points); err != nil {
		r.compensate(collection, ids)
		return err
	}
	if err := r.checkCanceled(); err != nil {
		r.compensate(collection, ids)
		return err
	}
	return nil
}

// persist uploads the original content, then commits document, chunks and
// intent removal in one transaction.
func (r *run) persist() error {
	tenant := core.Tenant{ID: r.doc.TenantID}
	collection := r.o.index.CollectionName(tenant)
	ids := make([]core.ID, len(r.chunks))
	for i, c := range r.chunks {
		ids[i] = c.ID
	}

	uploaded := ""
	if r.o.objects != nil && len(r.req.Content) > 0 {
		key := objectstore.Key(r.doc.TenantID, r.doc.ID, r.doc.FileName)
		obj, err := r.o.objects.Put(r.bctx, key, bytes.NewReader(r.req.Content), int64(len(r.req.Content)), r.doc.MediaType)
		if err != nil {
			r.compensate(collection, ids)
			return fmt.Errorf("failed to store content: %w", err)
		}
		uploaded = obj.Key
		r.doc.ContentKey = obj.Key
		if r.doc.OriginURL == "" {
			r.doc.OriginURL = obj.URL
		}
		if r.doc.PublicID == "" {
			r.doc.PublicID = obj.ETag
		}
	}

	err := r.o.store.CreateDocument(r.bctx, r.doc, r.chunks)
	if err == nil {
		return nil
	}

	r.o.logger.Error("metadata commit failed after index write",
		"tenant", r.doc.TenantID, "document", r.doc.ID, "err", err)
	r.compensate(collection, ids)
	if uploaded != "" {
		if delErr := r.o.objects.Delete(r.bctx, uploaded); delErr != nil {
			r.o.logger.Warn("failed to remove uploaded content", "key", uploaded, "err", delErr)
		}
	}
	if errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("%w: %w", core.ErrDuplicateDocument, err)
	}
	return err
}

// compensate deletes this request's points by id, so a concurrent document
// with the same file name keeps its own.
func (r *run) compensate(collection string, ids []core.ID) {
	if err := r.o.index.DeletePoints(r.bctx, collection, ids); err != nil {
		r.o.logger.Error("failed to remove points of failed ingestion, leaving intent for reconciliation",
			"document", r.doc.ID, "collection", collection, "points", len(ids), "err", err)
		return
	}
	r.dropIntent()
}

func (r *run) dropIntent() {
	if err := r.o.store.DeleteIntent(r.bctx, r.doc.ID); err != nil {
		r.o.logger.Warn("failed to remove index intent", "document", r.doc.ID, "err", err)
	}
}

// Delete removes a document's points, then its chunks, then the document
// itself and finally its stored content.
func (o *Orchestrator) Delete(ctx context.Context, tenant core.Tenant, documentID string) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	doc, err := o.store.GetDocument(ctx, tenant.ID, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
		}
		return err
	}
	return o.delete(ctx, doc)
}

// DeleteByFileName removes the tenant's document with the given file name.
func (o *Orchestrator) DeleteByFileName(ctx context.Context, tenant core.Tenant, fileName string) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	if strings.TrimSpace(fileName) == "" {
		return core.ErrEmptyFileName
	}
	doc, err := o.store.FindDocumentByFileName(ctx, tenant.ID, fileName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, fileName)
		}
		return err
	}
	return o.delete(ctx, doc)
}

func (o *Orchestrator) delete(ctx context.Context, doc *core.SourceDocument) error {
	tenant := core.Tenant{ID: doc.TenantID}
	if err := o.index.DeleteByFileName(ctx, tenant, doc.FileName); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	if err := o.store.DeleteChunks(ctx, doc.TenantID, doc.ID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := o.store.DeleteDocument(ctx, doc.TenantID, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if o.objects != nil && doc.ContentKey != "" {
		if err := o.objects.Delete(ctx, doc.ContentKey); err != nil {
			o.logger.Warn("failed to delete stored content", "document", doc.ID, "key", doc.ContentKey, "err", err)
		}
	}
	o.logger.Info("document deleted", "tenant", doc.TenantID, "document", doc.ID, "file", doc.FileName)
	return nil
}

// Document returns a tenant's document.
func (o *Orchestrator) Document(ctx context.Context, tenant core.Tenant, documentID string) (*core.SourceDocument, error) {
	return o.store.GetDocument(ctx, tenant.ID, documentID)
}

// List returns a tenant's documents, oldest first.
func (o *Orchestrator) List(ctx context.Context, tenant core.Tenant) ([]*core.SourceDocument, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	return o.store.ListDocuments(ctx, tenant.ID)
}

// Stats counts a tenant's documents and chunks.
func (o *Orchestrator) Stats(ctx context.Context, tenant core.Tenant) (*core.TenantStats, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	return o.store.Stats(ctx, tenant.ID)
}
