package badger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDocument(tenantID, id, fileName string) *core.SourceDocument {
	return &core.SourceDocument{
		ID:       id,
		TenantID: tenantID,
		FileName: fileName,
		Format:   core.FormatFromFileName(fileName),
	}
}

func testChunks(doc *core.SourceDocument, n int) []*core.Chunk {
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		chunks[i] = &core.Chunk{
			ID:         core.ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			TenantID:   doc.TenantID,
			FileName:   doc.FileName,
			Position:   i,
			PageNumber: 1,
			Text:       fmt.Sprintf("chunk %d of %s", i, doc.FileName),
			Vector:     []float32{float32(i), 1, 0},
		}
	}
	return chunks
}

func TestCreateDocument_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDocument("acme", "d1", "report.pdf")
	chunks := testChunks(doc, 3)
	require.NoError(t, store.SaveIntent(ctx, &core.IndexIntent{DocumentID: doc.ID, TenantID: doc.TenantID}))

	require.NoError(t, store.CreateDocument(ctx, doc, chunks))
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := store.GetDocument(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.FileName)
	assert.Equal(t, core.FormatPDF, got.Format)

	byName, err := store.FindDocumentByFileName(ctx, "acme", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "d1", byName.ID)

	stored, err := store.GetChunks(ctx, "acme", "d1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, c := range stored {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, chunks[i].ID, c.ID)
		assert.Equal(t, chunks[i].Vector, c.Vector)
	}

	intents, err := store.ListIntents(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, intents, "commit clears the intent")
}

func TestCreateDocument_DuplicateIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testDocument("acme", "d1", "report.pdf")
	require.NoError(t, store.CreateDocument(ctx, first, testChunks(first, 2)))

	dup := testDocument("acme", "d2", "report.pdf")
	err := store.CreateDocument(ctx, dup, testChunks(dup, 4))
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetDocument(ctx, "acme", "d2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	chunks, err := store.GetChunks(ctx, "acme", "d2")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	other := testDocument("globex", "d3", "report.pdf")
	require.NoError(t, store.CreateDocument(ctx, other, testChunks(other, 1)), "file names are scoped per tenant")
}

func TestCreateDocument_LargeDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n, dims = 2100, 768
	doc := testDocument("acme", "big", "manual.pdf")
	chunks := testChunks(doc, n)
	text := strings.Repeat("lorem ipsum ", 40)
	for _, c := range chunks {
		c.Text = text
		c.Vector = make([]float32, dims)
		c.Vector[c.Position%dims] = 1
	}
	require.NoError(t, store.SaveIntent(ctx, &core.IndexIntent{DocumentID: doc.ID, TenantID: doc.TenantID}))

	require.NoError(t, store.CreateDocument(ctx, doc, chunks))

	stats, err := store.Stats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, n, stats.Chunks)

	got, err := store.GetChunks(ctx, "acme", "big")
	require.NoError(t, err)
	require.Len(t, got, n)
	assert.Len(t, got[n-1].Vector, dims)

	intents, err := store.ListIntents(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestUncommittedChunksAreHidden(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDocument("acme", "d1", "a.txt")
	require.NoError(t, store.CreateDocument(ctx, doc, testChunks(doc, 3)))

	// chunks left behind by a commit that never wrote its document
	orphan := testDocument("acme", "d0", "b.txt")
	err := store.(*Store).backend.WithBatch(func(wb *badger.WriteBatch) error {
		for _, c := range testChunks(orphan, 4) {
			data, err := encode(toStoredChunk(c))
			if err != nil {
				return err
			}
			if err := wb.Set(makeChunkKey(orphan.TenantID, orphan.ID, c.Position), data); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	stats, err := store.Stats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 3, stats.Chunks)

	var visited []string
	err = store.ForEachChunkBatch(ctx, "acme", 2, func(batch []*core.Chunk) error {
		for _, c := range batch {
			visited = append(visited, c.DocumentID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d1", "d1"}, visited)

	require.NoError(t, store.DeleteChunks(ctx, "acme", "d0"))
	require.NoError(t, store.(*Store).backend.WithTx(func(tx *badger.Txn) error {
		keys, err := ScanKeys(tx, MakeKey(chunkPrefix, "acme", "d0"))
		assert.Empty(t, keys)
		return err
	}, false))
}

func TestCreateDocument_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		doc    *core.SourceDocument
		chunks func(*core.SourceDocument) []*core.Chunk
		want   error
	}{
		{
			name: "nil document",
			want: core.ErrInvalidDocument,
		},
		{
			name: "missing id",
			doc:  testDocument("acme", "", "a.txt"),
			want: core.ErrInvalidDocument,
		},
		{
			name: "foreign chunk",
			doc:  testDocument("acme", "d1", "a.txt"),
			chunks: func(d *core.SourceDocument) []*core.Chunk {
				c := testChunks(d, 1)
				c[0].DocumentID = "other"
				return c
			},
			want: core.ErrInvalidChunk,
		},
		{
			name: "blank chunk",
			doc:  testDocument("acme", "d1", "a.txt"),
			chunks: func(d *core.SourceDocument) []*core.Chunk {
				c := testChunks(d, 1)
				c[0].Text = "  "
				return c
			},
			want: core.ErrEmptyContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var chunks []*core.Chunk
			if tt.chunks != nil {
				chunks = tt.chunks(tt.doc)
			}
			err := store.CreateDocument(ctx, tt.doc, chunks)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestListDocuments_OrderedByCreation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"c.txt", "a.txt", "b.txt"} {
		doc := testDocument("acme", fmt.Sprintf("z%d", 3-i), name)
		doc.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateDocument(ctx, doc, nil))
	}

	docs, err := store.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "c.txt", docs[0].FileName)
	assert.Equal(t, "a.txt", docs[1].FileName)
	assert.Equal(t, "b.txt", docs[2].FileName)

	none, err := store.ListDocuments(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestForEachChunkBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		doc := testDocument("acme", fmt.Sprintf("d%d", i), fmt.Sprintf("f%d.txt", i))
		require.NoError(t, store.CreateDocument(ctx, doc, testChunks(doc, 5)))
	}
	other := testDocument("globex", "g1", "g.txt")
	require.NoError(t, store.CreateDocument(ctx, other, testChunks(other, 5)))

	var sizes []int
	seen := map[core.ID]bool{}
	err := store.ForEachChunkBatch(ctx, "acme", 4, func(batch []*core.Chunk) error {
		sizes = append(sizes, len(batch))
		for _, c := range batch {
			assert.Equal(t, "acme", c.TenantID)
			assert.False(t, seen[c.ID], "chunk visited twice")
			seen[c.ID] = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 4, 3}, sizes)
	assert.Len(t, seen, 15)

	err = store.ForEachChunkBatch(ctx, "acme", 4, func([]*core.Chunk) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	err = store.ForEachChunkBatch(ctx, "acme", 0, func([]*core.Chunk) error { return nil })
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestUpdateChunkVectors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDocument("acme", "d1", "a.txt")
	chunks := testChunks(doc, 2)
	require.NoError(t, store.CreateDocument(ctx, doc, chunks))

	chunks[1].Vector = []float32{9, 9, 9, 9}
	require.NoError(t, store.UpdateChunkVectors(ctx, chunks[1:]))

	stored, err := store.GetChunks(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, stored[0].Vector)
	assert.Equal(t, []float32{9, 9, 9, 9}, stored[1].Vector)
	assert.Equal(t, chunks[1].Text, stored[1].Text)

	missing := &core.Chunk{ID: 7, TenantID: "acme", DocumentID: "d1", Position: 99}
	assert.ErrorIs(t, store.UpdateChunkVectors(ctx, []*core.Chunk{missing}), storage.ErrNotFound)
}

func TestDeleteDocument_Cascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDocument("acme", "d1", "a.txt")
	require.NoError(t, store.CreateDocument(ctx, doc, testChunks(doc, 3)))

	require.NoError(t, store.DeleteDocument(ctx, "acme", "d1"))

	_, err := store.GetDocument(ctx, "acme", "d1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.FindDocumentByFileName(ctx, "acme", "a.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	chunks, err := store.GetChunks(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.ErrorIs(t, store.DeleteDocument(ctx, "acme", "d1"), storage.ErrNotFound)

	again := testDocument("acme", "d2", "a.txt")
	require.NoError(t, store.CreateDocument(ctx, again, nil), "file name is free after delete")
}

func TestDeleteChunks_ThenStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d1 := testDocument("acme", "d1", "a.txt")
	d2 := testDocument("acme", "d2", "b.txt")
	require.NoError(t, store.CreateDocument(ctx, d1, testChunks(d1, 3)))
	require.NoError(t, store.CreateDocument(ctx, d2, testChunks(d2, 2)))

	stats, err := store.Stats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, &core.TenantStats{TenantID: "acme", Documents: 2, Chunks: 5}, stats)

	require.NoError(t, store.DeleteChunks(ctx, "acme", "d1"))
	require.NoError(t, store.DeleteChunks(ctx, "acme", "missing"))

	stats, err = store.Stats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 2, stats.Chunks)
}

func TestIntents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, store.SaveIntent(ctx, &core.IndexIntent{DocumentID: "new", TenantID: "acme"}))
	require.NoError(t, store.SaveIntent(ctx, &core.IndexIntent{
		DocumentID: "old",
		TenantID:   "acme",
		Collection: "tenant_x",
		FileName:   "a.txt",
		PointIDs:   []core.ID{1, 2},
		CreatedAt:  old,
	}))

	intents, err := store.ListIntents(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "old", intents[0].DocumentID)
	assert.Equal(t, []core.ID{1, 2}, intents[0].PointIDs)

	all, err := store.ListIntents(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "old", all[0].DocumentID)

	require.NoError(t, store.DeleteIntent(ctx, "old"))
	require.NoError(t, store.DeleteIntent(ctx, "old"))
	all, err = store.ListIntents(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, store.SaveIntent(ctx, &core.IndexIntent{}), storage.ErrInvalidQuery)
}

func TestJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	j1 := &core.IngestionJob{ID: "j1", TenantID: "acme", State: core.StateReceived}
	require.NoError(t, store.SaveJob(ctx, j1))
	time.Sleep(time.Millisecond)
	j2 := &core.IngestionJob{ID: "j2", TenantID: "acme", State: core.StateDone}
	require.NoError(t, store.SaveJob(ctx, j2))

	j1.State = core.StateFailed
	j1.FailedStage = core.StageEmbed
	require.NoError(t, store.SaveJob(ctx, j1))

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State)
	assert.Equal(t, core.StageEmbed, got.FailedStage)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	all, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "j1", all[0].ID)

	done, err := store.ListJobs(ctx, core.StateDone, core.StateReceived)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "j2", done[0].ID)
}

func TestStoreWithSharedBackend(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	store, err := NewStoreWithBackend(backend)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.False(t, backend.IsClosed())

	_, err = NewStoreWithBackend(nil)
	assert.Error(t, err)
}
