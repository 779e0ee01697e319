package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

// mockStore is an in-memory chunk store tracking calls. Workers write
// concurrently, so every method locks.
type mockStore struct {
	mu     sync.Mutex
	chunks map[string]chunk.Chunk

	upsertErrs  int // number of upcoming Upsert calls that fail
	upsertCalls int
	deleteCalls int
}

func newMockStore() *mockStore {
	return &mockStore{chunks: make(map[string]chunk.Chunk)}
}

func (m *mockStore) Upsert(ctx context.Context, chunks []chunk.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.upsertErrs > 0 {
		m.upsertErrs--
		return errors.New("backend write failed")
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *mockStore) DeleteByIDs(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	for _, id := range ids {
		delete(m.chunks, id)
	}
	return nil
}

func (m *mockStore) ListChunkIDs(ctx context.Context, docID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, c := range m.chunks {
		if c.DocID == docID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockStore) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.chunks))
	for id := range m.chunks {
		ids = append(ids, id)
	}
	return ids
}

// mockEmbedder returns deterministic four-dimensional vectors.
type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = []float32{float32(len(t)%7) + 1, 1, 0, 0}
	}
	return vectors, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func wordText(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func newEngine(t *testing.T, store Store, maxWords, overlap int) *Engine {
	t.Helper()
	chunker, err := NewChunker(maxWords, overlap)
	require.NoError(t, err)
	engine, err := New(store, newStateStore(t), &mockEmbedder{}, chunker,
		Options{MaxWorkers: 4, BatchSize: 2}, log.NewNop())
	require.NoError(t, err)
	return engine
}

// The documented scenario: files A (200 words) and B (50 words) with
// max_words=100 and overlap=20 produce 3+1 chunks; modifying only A
// rewrites exactly A's 3 chunks.
func TestEngine_ExampleScenario(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFile(t, dir, "a.md", wordText(200))
	writeFile(t, dir, "b.md", wordText(50))

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)
	ctx := context.Background()

	result, err := engine.Index(ctx, dir, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, result.New)
	assert.Equal(t, 4, result.ChunksWritten)
	assert.Len(t, store.ids(), 4)

	// Modify A only.
	require.NoError(t, os.WriteFile(pathA, []byte(wordText(200)+" changed"), 0o600))

	result, err = engine.Index(ctx, dir, ModeDelta)
	require.NoError(t, err)
	assert.Equal(t, 0, result.New)
	assert.Equal(t, 1, result.Modified)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 3, result.ChunksWritten, "exactly A's chunks rewritten")
	assert.Len(t, store.ids(), 4, "B's single chunk untouched")

	docB := DocID(filepath.Join(dir, "b.md"))
	idsB, err := store.ListChunkIDs(ctx, docB)
	require.NoError(t, err)
	assert.Len(t, idsB, 1)
}

// Indexing an unchanged source twice in delta mode is a no-op.
func TestEngine_DeltaIdempotence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", wordText(120))
	writeFile(t, dir, "b.md", wordText(30))

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)
	ctx := context.Background()

	_, err := engine.Index(ctx, dir, ModeFull)
	require.NoError(t, err)
	before := store.ids()

	result, err := engine.Index(ctx, dir, ModeDelta)
	require.NoError(t, err)
	assert.Equal(t, 0, result.New)
	assert.Equal(t, 0, result.Modified)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 0, result.ChunksWritten)
	assert.ElementsMatch(t, before, store.ids())
}

// After any add/modify/remove mix, the store contains exactly the chunks of
// the files present in the second run.
func TestEngine_DeltaCorrectness(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.md", wordText(40))
	pathMod := writeFile(t, dir, "mod.md", wordText(40))
	pathGone := writeFile(t, dir, "gone.md", wordText(40))

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)
	ctx := context.Background()

	_, err := engine.Index(ctx, dir, ModeFull)
	require.NoError(t, err)
	require.Len(t, store.ids(), 3)

	require.NoError(t, os.WriteFile(pathMod, []byte(wordText(150)), 0o600))
	require.NoError(t, os.Remove(pathGone))
	writeFile(t, dir, "added.md", wordText(20))

	result, err := engine.Index(ctx, dir, ModeDelta)
	require.NoError(t, err)
	assert.Equal(t, 1, result.New)
	assert.Equal(t, 1, result.Modified)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Unchanged)

	wantDocs := map[string]int{
		DocID(filepath.Join(dir, "keep.md")):  1,
		DocID(pathMod):                        2, // 150 words @ max 100/overlap 20
		DocID(filepath.Join(dir, "added.md")): 1,
	}
	gotDocs := make(map[string]int)
	for _, id := range store.ids() {
		gotDocs[strings.SplitN(id, "#", 2)[0]]++
	}
	assert.Equal(t, wantDocs, gotDocs)
}

// A file that cannot be embedded is reported failed without aborting the rest.
func TestEngine_FileFailureDoesNotAbortRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", wordText(30))
	writeFile(t, dir, "b.md", wordText(30))

	store := newMockStore()
	chunker, err := NewChunker(100, 20)
	require.NoError(t, err)
	engine, err := New(store, newStateStore(t), &mockEmbedder{err: errors.New("embedder down")}, chunker,
		Options{MaxWorkers: 2, BatchSize: 2}, log.NewNop())
	require.NoError(t, err)

	result, err := engine.Index(context.Background(), dir, ModeFull)
	require.NoError(t, err)
	assert.Len(t, result.Failed, 2)
	assert.Equal(t, 0, result.ChunksWritten)
}

// A failed batch write is retried once with the same batch.
func TestEngine_BatchWriteRetriedOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", wordText(30))

	store := newMockStore()
	store.upsertErrs = 1 // first attempt fails, retry succeeds
	engine := newEngine(t, store, 100, 20)

	result, err := engine.Index(context.Background(), dir, ModeFull)
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 1, result.ChunksWritten)
	assert.Equal(t, 2, store.upsertCalls)
}

// Both attempts failing surfaces as a per-file partial failure.
func TestEngine_BatchWriteFailsAfterRetry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", wordText(30))

	store := newMockStore()
	store.upsertErrs = 2
	engine := newEngine(t, store, 100, 20)

	result, err := engine.Index(context.Background(), dir, ModeFull)
	require.NoError(t, err)
	assert.Len(t, result.Failed, 1)
}

// Above the sequential threshold the worker-pool path must produce the
// same result as the sequential path.
func TestEngine_ParallelIngestion(t *testing.T) {
	dir := t.TempDir()
	for i := range 12 {
		writeFile(t, dir, fmt.Sprintf("f%02d.md", i), wordText(30+i))
	}

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)

	result, err := engine.Index(context.Background(), dir, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 12, result.New)
	assert.Equal(t, 12, result.ChunksWritten)
	assert.Len(t, store.ids(), 12)
}

func TestEngine_UnsupportedExtensionsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", wordText(10))
	writeFile(t, dir, "image.png", "not text")

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)

	result, err := engine.Index(context.Background(), dir, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, result.New)
	assert.Equal(t, 1, result.Skipped)
}

func TestEngine_GitignoreRespected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "ignored.md\n")
	writeFile(t, dir, "kept.md", wordText(10))
	writeFile(t, dir, "ignored.md", wordText(10))

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)

	result, err := engine.Index(context.Background(), dir, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, result.New)

	ids, err := store.ListChunkIDs(context.Background(), DocID(filepath.Join(dir, "ignored.md")))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// A source root that can no longer be enumerated must fail the run; an
// empty file list would otherwise make the removed-files pass delete every
// previously indexed chunk.
func TestEngine_VanishedSourceDoesNotWipeIndex(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "docs")
	require.NoError(t, os.Mkdir(source, 0o700))
	writeFile(t, source, "a.md", wordText(40))
	writeFile(t, source, "b.md", wordText(40))

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)
	ctx := context.Background()

	_, err := engine.Index(ctx, source, ModeFull)
	require.NoError(t, err)
	before := store.ids()
	require.Len(t, before, 2)

	// The source path now points at a regular file instead of a directory.
	require.NoError(t, os.RemoveAll(source))
	require.NoError(t, os.WriteFile(source, []byte("not a directory"), 0o600))

	_, err = engine.Index(ctx, source, ModeDelta)
	require.Error(t, err)
	assert.ElementsMatch(t, before, store.ids(), "indexed chunks must survive a broken source root")
	assert.Equal(t, 0, store.deleteCalls, "the removed-files pass must not run")

	// Same guarantee when the root is gone entirely.
	require.NoError(t, os.Remove(source))
	_, err = engine.Index(ctx, source, ModeDelta)
	require.Error(t, err)
	assert.ElementsMatch(t, before, store.ids())
}

// Full mode rewrites every file but still labels content-unchanged files as
// unchanged, keeping the counts comparable with delta runs.
func TestEngine_FullModeCountsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", wordText(40))
	pathB := writeFile(t, dir, "b.md", wordText(40))

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)
	ctx := context.Background()

	_, err := engine.Index(ctx, dir, ModeFull)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(pathB, []byte(wordText(40)+" changed"), 0o600))

	result, err := engine.Index(ctx, dir, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 0, result.New)
	assert.Equal(t, 1, result.Modified)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 2, result.ChunksWritten, "full mode still rewrites unchanged files")
}

// The per-source lock lives next to the state database and rejects a second
// concurrent run.
func TestEngine_ConcurrentRunRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", wordText(10))

	store := newMockStore()
	engine := newEngine(t, store, 100, 20)

	absDir, err := filepath.Abs(dir)
	require.NoError(t, err)
	lockFile := engine.lockPath(absDir)
	assert.Equal(t, engine.state.Dir(), filepath.Dir(lockFile))

	held := flock.New(lockFile)
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = held.Unlock() }()

	_, err = engine.Index(context.Background(), dir, ModeFull)
	assert.ErrorIs(t, err, ErrIngestRunning)
}

func TestDocID_Stable(t *testing.T) {
	a := DocID("/some/path/file.md")
	b := DocID("/some/path/file.md")
	c := DocID("/other/file.md")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "doc_"))
}
