package chunkstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

func newLocalStore(t *testing.T) *Local {
	t.Helper()
	store, err := NewLocal(Config{Dir: t.TempDir(), Dimension: 4}, log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChunk(docID string, ordinal int, content string, embedding []float32) chunk.Chunk {
	return chunk.Chunk{
		DocID:     docID,
		ID:        chunk.NewID(docID, ordinal),
		Path:      "/docs/" + docID + ".md",
		Content:   content,
		Embedding: embedding,
		Source:    chunk.SourceKB,
		Extra:     map[string]string{"content_hash": "abc123"},
	}
}

func TestLocal_UpsertAndQuerySemantic(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []chunk.Chunk{
		testChunk("doc-a", 0, "postgres connection pooling", []float32{1, 0, 0, 0}),
		testChunk("doc-b", 0, "kubernetes ingress routing", []float32{0, 1, 0, 0}),
	})
	require.NoError(t, err)

	results, err := store.QuerySemantic(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, chunk.NewID("doc-a", 0), results[0].ID)
	assert.Equal(t, "doc-a", results[0].DocID)
	assert.Equal(t, "/docs/doc-a.md", results[0].Path)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
	assert.Equal(t, "abc123", results[0].Extra["content_hash"])
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestLocal_QuerySemantic_KLargerThanCollection(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{
		testChunk("doc-a", 0, "only one chunk", []float32{1, 0, 0, 0}),
	}))

	// Must clamp instead of erroring when k exceeds stored chunk count.
	results, err := store.QuerySemantic(ctx, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestLocal_QuerySemantic_EmptyStore(t *testing.T) {
	store := newLocalStore(t)

	results, err := store.QuerySemantic(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLocal_QueryKeyword(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{
		testChunk("doc-a", 0, "configuring postgres replication and failover", []float32{1, 0, 0, 0}),
		testChunk("doc-b", 0, "baking sourdough bread at home", []float32{0, 1, 0, 0}),
	}))

	results, err := store.QueryKeyword(ctx, []string{"postgres", "replication"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, chunk.NewID("doc-a", 0), results[0].ID)
	assert.Equal(t, "doc-a", results[0].DocID)
	assert.Contains(t, results[0].Content, "postgres")
	assert.Greater(t, results[0].Score, float32(0))
	assert.Equal(t, "abc123", results[0].Extra["content_hash"])
}

func TestLocal_QueryKeyword_NoTerms(t *testing.T) {
	store := newLocalStore(t)

	results, err := store.QueryKeyword(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLocal_UpsertIsIdempotent(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	first := testChunk("doc-a", 0, "original content", []float32{1, 0, 0, 0})
	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{first}))

	replacement := testChunk("doc-a", 0, "replacement content", []float32{0, 0, 1, 0})
	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{replacement}))

	results, err := store.QuerySemantic(ctx, []float32{0, 0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1, "same id must replace, not duplicate")
	assert.Equal(t, "replacement content", results[0].Content)

	ids, err := store.ListChunkIDs(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, []string{chunk.NewID("doc-a", 0)}, ids)
}

func TestLocal_DeleteByIDs(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{
		testChunk("doc-a", 0, "first", []float32{1, 0, 0, 0}),
		testChunk("doc-a", 1, "second", []float32{0, 1, 0, 0}),
	}))

	require.NoError(t, store.DeleteByIDs(ctx, []string{chunk.NewID("doc-a", 0)}))

	ids, err := store.ListChunkIDs(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, []string{chunk.NewID("doc-a", 1)}, ids)
}

func TestLocal_DeleteByIDs_MissingIDIsNoOp(t *testing.T) {
	store := newLocalStore(t)

	err := store.DeleteByIDs(context.Background(), []string{"never-existed#0000"})
	assert.NoError(t, err)
}

func TestLocal_ListChunkIDs_Ordered(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	// Insert out of order; listing must come back in chunk order.
	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{
		testChunk("doc-a", 2, "three", []float32{0, 0, 1, 0}),
		testChunk("doc-a", 0, "one", []float32{1, 0, 0, 0}),
		testChunk("doc-a", 1, "two", []float32{0, 1, 0, 0}),
		testChunk("doc-b", 0, "other doc", []float32{0, 0, 0, 1}),
	}))

	ids, err := store.ListChunkIDs(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, []string{
		chunk.NewID("doc-a", 0),
		chunk.NewID("doc-a", 1),
		chunk.NewID("doc-a", 2),
	}, ids)
}
