package reindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/ragify/ai/mock"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/index"
	ib "github.com/poiesic/ragify/index/badger"
	"github.com/poiesic/ragify/storage"
	"github.com/poiesic/ragify/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dims = 8

var tenant = core.Tenant{ID: "acme"}

func setup(t *testing.T) (storage.Store, *index.Manager) {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend, err := ib.Open("", true)
	require.NoError(t, err)
	manager, err := index.NewManager(backend)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return store, manager
}

// seed stores one document per name with n chunks each, carrying stale vectors.
func seed(t *testing.T, store storage.Store, n int, names ...string) {
	t.Helper()
	for _, name := range names {
		doc := &core.SourceDocument{
			ID:       "doc-" + name,
			TenantID: tenant.ID,
			FileName: name,
			Format:   core.FormatText,
		}
		chunks := make([]*core.Chunk, n)
		for i := range chunks {
			text := fmt.Sprintf("%s chunk %d", name, i)
			chunks[i] = &core.Chunk{
				ID:         core.ChunkID(doc.ID, i),
				DocumentID: doc.ID,
				TenantID:   tenant.ID,
				FileName:   name,
				Position:   i,
				PageNumber: 1,
				Text:       text,
				Vector:     mock.Vector("stale "+text, dims),
			}
		}
		require.NoError(t, store.CreateDocument(context.Background(), doc, chunks))
	}
}

func testConfig(batch int) *Config {
	return &Config{
		BatchSize:      batch,
		ReportInterval: batch,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		Normalize:      true,
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	store, manager := setup(t)
	embedder := mock.NewMockEmbedderWithDimensions(dims)

	_, err := New(nil, embedder, manager, nil, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = New(store, nil, manager, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = New(store, embedder, nil, nil, nil)
	assert.ErrorIs(t, err, ErrIndexRequired)

	r, err := New(store, embedder, manager, &Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().BatchSize, r.config.BatchSize)
	assert.Equal(t, DefaultConfig().MaxRetries, r.config.MaxRetries)
}

func TestRunRebuildsCollection(t *testing.T) {
	ctx := context.Background()
	store, manager := setup(t)
	seed(t, store, 4, "a.txt", "b.txt", "c.txt")
	embedder := mock.NewMockEmbedderWithDimensions(dims)

	var out bytes.Buffer
	r, err := New(store, embedder, manager, testConfig(5), &out)
	require.NoError(t, err)

	report, err := r.Run(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 12, report.Chunks)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 12, embedder.TextCount())
	assert.Contains(t, out.String(), "12/12")

	chunks, err := store.GetChunks(ctx, tenant.ID, "doc-b.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for _, c := range chunks {
		assert.InDeltaSlice(t, mock.Vector(c.Text, dims), c.Vector, 1e-5)
	}

	hits, err := manager.Search(ctx, tenant, mock.Vector("b.txt chunk 2", dims), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.ChunkID("doc-b.txt", 2), hits[0].ID)
	assert.Equal(t, "b.txt", hits[0].Payload.FileName)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
}

func TestRunTwiceKeepsOnePointPerChunk(t *testing.T) {
	ctx := context.Background()
	store, manager := setup(t)
	seed(t, store, 3, "a.txt")

	r, err := New(store, mock.NewMockEmbedderWithDimensions(dims), manager, testConfig(2), nil)
	require.NoError(t, err)
	_, err = r.Run(ctx, tenant)
	require.NoError(t, err)
	_, err = r.Run(ctx, tenant)
	require.NoError(t, err)

	hits, err := manager.Search(ctx, tenant, mock.Vector("a.txt chunk 0", dims), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestRunEmptyTenant(t *testing.T) {
	store, manager := setup(t)
	embedder := mock.NewMockEmbedderWithDimensions(dims)

	var out bytes.Buffer
	r, err := New(store, embedder, manager, nil, &out)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), tenant)
	require.NoError(t, err)
	assert.Zero(t, report.Chunks)
	assert.Zero(t, embedder.CallCount())
	assert.Contains(t, out.String(), "0 chunks")
}

func TestRunRejectsBlankTenant(t *testing.T) {
	store, manager := setup(t)
	r, err := New(store, mock.NewMockEmbedderWithDimensions(dims), manager, nil, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), core.Tenant{ID: " "})
	assert.ErrorIs(t, err, core.ErrEmptyTenant)
}

func TestRunRetriesTransientEmbeddingFailure(t *testing.T) {
	store, manager := setup(t)
	seed(t, store, 2, "a.txt")

	embedder := mock.NewMockEmbedderWithDimensions(dims)
	failures := 1
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("rate limited")
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text, dims)
		}
		return out, nil
	}

	r, err := New(store, embedder, manager, testConfig(10), nil)
	require.NoError(t, err)
	report, err := r.Run(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 2, embedder.CallCount())
}

func TestRunGivesUpAfterRetries(t *testing.T) {
	store, manager := setup(t)
	seed(t, store, 1, "a.txt")

	embedder := mock.NewMockEmbedderWithDimensions(dims)
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("persistent error")
	}

	cfg := testConfig(1)
	cfg.MaxRetries = 2
	r, err := New(store, embedder, manager, cfg, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), tenant)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistent error")
	assert.Equal(t, 2, embedder.CallCount())
}

func TestRunRejectsShortVectorBatch(t *testing.T) {
	store, manager := setup(t)
	seed(t, store, 2, "a.txt")

	embedder := mock.NewMockEmbedderWithDimensions(dims)
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{mock.Vector(texts[0], dims)}, nil
	}

	r, err := New(store, embedder, manager, testConfig(10), nil)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), tenant)
	assert.ErrorIs(t, err, ErrVectorCountMismatch)
}

func TestRunDetectsDimensionChange(t *testing.T) {
	ctx := context.Background()
	store, manager := setup(t)
	seed(t, store, 2, "a.txt")
	_, err := manager.EnsureCollection(ctx, tenant, dims)
	require.NoError(t, err)

	r, err := New(store, mock.NewMockEmbedderWithDimensions(dims/2), manager, testConfig(10), nil)
	require.NoError(t, err)
	_, err = r.Run(ctx, tenant)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	chunks, err := store.GetChunks(ctx, tenant.ID, "doc-a.txt")
	require.NoError(t, err)
	assert.Len(t, chunks[0].Vector, dims, "stored vectors stay untouched")
}

func TestRunStopsOnCancellation(t *testing.T) {
	store, manager := setup(t)
	seed(t, store, 10, "a.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedder := mock.NewMockEmbedderWithDimensions(dims)
	calls := 0
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text, dims)
		}
		return out, nil
	}

	r, err := New(store, embedder, manager, testConfig(3), nil)
	require.NoError(t, err)
	report, err := r.Run(ctx, tenant)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, report.Chunks, 10)
}
