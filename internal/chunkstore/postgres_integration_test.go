package chunkstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/chunkstore"
	"github.com/siftd/sift/internal/log"
	"github.com/siftd/sift/internal/testutil"
)

// vec768 builds a deterministic unit-ish vector whose first component
// dominates, so cosine ordering in tests is predictable.
func vec768(lead float32) []float32 {
	v := make([]float32, 768)
	v[0] = lead
	v[1] = 1 - lead
	return v
}

func setupPostgresStore(t *testing.T) *chunkstore.Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	connURL := testutil.SetupPostgres(t)
	store, err := chunkstore.NewPostgres(context.Background(), chunkstore.Config{
		Backend:      chunkstore.BackendPostgres,
		DSN:          connURL,
		Dimension:    768,
		QueryTimeout: chunkstore.DefaultQueryTimeout,
	}, log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgres_UpsertAndQuerySemantic(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	chunks := []chunk.Chunk{
		{
			DocID: "doc_a", ID: chunk.NewID("doc_a", 0), Path: "/kb/a.md",
			Content: "postgres connection pooling guide", Embedding: vec768(0.99),
			Extra: map[string]string{"content_hash": "h1"},
		},
		{
			DocID: "doc_a", ID: chunk.NewID("doc_a", 1), Path: "/kb/a.md",
			Content: "tuning worker counts", Embedding: vec768(0.5),
		},
		{
			DocID: "doc_b", ID: chunk.NewID("doc_b", 0), Path: "/kb/b.md",
			Content: "unrelated cooking recipe", Embedding: vec768(0.01),
		},
	}
	require.NoError(t, store.Upsert(ctx, chunks))

	results, err := store.QuerySemantic(ctx, vec768(1.0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, chunk.NewID("doc_a", 0), results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, chunk.SourceKB, results[0].Source)
	assert.Equal(t, "h1", results[0].Extra["content_hash"])
}

func TestPostgres_UpsertIsIdempotent(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	id := chunk.NewID("doc_a", 0)
	first := chunk.Chunk{DocID: "doc_a", ID: id, Path: "/kb/a.md", Content: "old text", Embedding: vec768(0.9)}
	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{first}))

	first.Content = "new text"
	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{first}))

	results, err := store.QuerySemantic(ctx, vec768(0.9), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new text", results[0].Content)
}

func TestPostgres_QueryKeyword(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{
		{DocID: "doc_a", ID: chunk.NewID("doc_a", 0), Path: "/kb/a.md",
			Content: "configuring connection pooling for postgres", Embedding: vec768(0.9)},
		{DocID: "doc_b", ID: chunk.NewID("doc_b", 0), Path: "/kb/b.md",
			Content: "a recipe for sourdough bread", Embedding: vec768(0.1)},
	}))

	results, err := store.QueryKeyword(ctx, []string{"pooling"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunk.NewID("doc_a", 0), results[0].ID)
	assert.Positive(t, results[0].Score)

	none, err := store.QueryKeyword(ctx, []string{"nonexistentterm"}, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgres_DeleteByIDs(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	id := chunk.NewID("doc_a", 0)
	require.NoError(t, store.Upsert(ctx, []chunk.Chunk{
		{DocID: "doc_a", ID: id, Path: "/kb/a.md", Content: "text", Embedding: vec768(0.9)},
	}))

	require.NoError(t, store.DeleteByIDs(ctx, []string{id, "doc_missing#0000"}))

	results, err := store.QuerySemantic(ctx, vec768(0.9), 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPostgres_ListChunkIDs(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	var chunks []chunk.Chunk
	for i := 0; i < 3; i++ {
		chunks = append(chunks, chunk.Chunk{
			DocID: "doc_a", ID: chunk.NewID("doc_a", i), Path: "/kb/a.md",
			Content: "chunk content", Embedding: vec768(0.5),
		})
	}
	require.NoError(t, store.Upsert(ctx, chunks))

	ids, err := store.ListChunkIDs(ctx, "doc_a")
	require.NoError(t, err)
	assert.Equal(t, []string{
		chunk.NewID("doc_a", 0),
		chunk.NewID("doc_a", 1),
		chunk.NewID("doc_a", 2),
	}, ids)

	empty, err := store.ListChunkIDs(ctx, "doc_unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
