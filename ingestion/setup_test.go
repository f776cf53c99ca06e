package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/ragify/ai"
	"github.com/poiesic/ragify/ai/mock"
	"github.com/poiesic/ragify/chunk"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
	ib "github.com/poiesic/ragify/index/badger"
	"github.com/poiesic/ragify/objectstore"
	"github.com/poiesic/ragify/storage"
	"github.com/poiesic/ragify/storage/badger"
	"github.com/stretchr/testify/require"
)

const testDims = 8

var errInjected = errors.New("injected failure")

// flakyBackend fails selected index operations on demand.
type flakyBackend struct {
	index.Backend
	failUpsert atomic.Bool
	failDelete atomic.Bool
}

func (b *flakyBackend) Upsert(ctx context.Context, name string, points []core.VectorPoint) error {
	if b.failUpsert.Load() {
		return errInjected
	}
	return b.Backend.Upsert(ctx, name, points)
}

func (b *flakyBackend) DeletePoints(ctx context.Context, name string, ids []core.ID) error {
	if b.failDelete.Load() {
		return errInjected
	}
	return b.Backend.DeletePoints(ctx, name, ids)
}

// flakyStore fails the metadata commit on demand and records chunk deletions.
type flakyStore struct {
	storage.Store
	createErr     error
	deletedChunks []string
}

func (s *flakyStore) DeleteChunks(ctx context.Context, tenantID, documentID string) error {
	s.deletedChunks = append(s.deletedChunks, documentID)
	return s.Store.DeleteChunks(ctx, tenantID, documentID)
}

func (s *flakyStore) CreateDocument(ctx context.Context, doc *core.SourceDocument, chunks []*core.Chunk) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateDocument(ctx, doc, chunks)
}

type fixture struct {
	store    *flakyStore
	backend  *flakyBackend
	manager  *index.Manager
	embedder *mock.MockEmbedder
	objects  *objectstore.Memory
	orch     *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vectors, err := ib.Open("", true)
	require.NoError(t, err)
	backend := &flakyBackend{Backend: vectors}

	manager, err := index.NewManager(backend)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	chunker, err := chunk.New()
	require.NoError(t, err)

	embedder := mock.NewMockEmbedderWithDimensions(testDims)
	batcher, err := ai.NewBatchEmbedder(embedder, ai.WithVectorDimensions(testDims), ai.WithBatchSize(2))
	require.NoError(t, err)
	t.Cleanup(batcher.Release)

	objects := objectstore.NewMemory()
	f := &fixture{
		store:    &flakyStore{Store: store},
		backend:  backend,
		manager:  manager,
		embedder: embedder,
		objects:  objects,
	}

	opts = append([]Option{WithObjectStore(objects), WithEmbedRetry(3, time.Millisecond)}, opts...)
	f.orch, err = New(f.store, chunker, batcher, manager, opts...)
	require.NoError(t, err)
	return f
}

func mustChunker(t *testing.T, size int) *chunk.Chunker {
	t.Helper()
	c, err := chunk.New(chunk.WithChunkSize(size), chunk.WithOverlap(0))
	require.NoError(t, err)
	return c
}

// searchAll returns every point in the tenant's collection.
func (f *fixture) searchAll(t *testing.T, tenant core.Tenant) []core.ScoredPoint {
	t.Helper()
	query := make([]float32, testDims)
	query[0] = 1
	points, err := f.manager.Search(context.Background(), tenant, query, 1000)
	require.NoError(t, err)
	return points
}

func (f *fixture) intents(t *testing.T) []*core.IndexIntent {
	t.Helper()
	intents, err := f.store.ListIntents(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	return intents
}

// longText produces enough text for several chunks.
func longText() string {
	return strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30)
}

func request(tenant, fileName, text string) IngestRequest {
	return IngestRequest{
		Tenant:   core.Tenant{ID: tenant},
		Document: &core.SourceDocument{FileName: fileName},
		RawText:  text,
	}
}

// recorder collects the states of observed events.
type recorder struct {
	events []Event
}

func (r *recorder) Observe(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) states() []core.JobState {
	states := make([]core.JobState, len(r.events))
	for i, ev := range r.events {
		states[i] = ev.State
	}
	return states
}
