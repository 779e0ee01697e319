// Package ingest implements delta-aware document ingestion: walking a
// source directory, hashing file content, diffing against the persisted
// per-file state, chunking changed files and writing their chunks to the
// chunk store in bounded parallelism with batching.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

// Mode selects between a full rebuild and hash-based delta ingestion.
type Mode string

const (
	// ModeFull re-chunks every eligible file in the source.
	ModeFull Mode = "full"

	// ModeDelta only processes files whose content hash changed.
	ModeDelta Mode = "delta"
)

// ErrIngestRunning indicates another ingestion run holds the source lock.
var ErrIngestRunning = errors.New("ingestion already running for this source")

// Store is the chunk store surface the engine needs. Defined here, by the
// consumer, so tests can substitute a mock.
type Store interface {
	Upsert(ctx context.Context, chunks []chunk.Chunk) error
	DeleteByIDs(ctx context.Context, ids []string) error
	ListChunkIDs(ctx context.Context, docID string) ([]string, error)
}

// Embedder is the black-box embedding dependency.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// defaultExtensions are the file types indexed when none are configured.
var defaultExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".go": true, ".py": true, ".js": true, ".ts": true,
	".java": true, ".c": true, ".cpp": true, ".h": true,
	".rs": true, ".rb": true, ".sh": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".html": true, ".css": true, ".sql": true,
}

// maxFileSize bounds how much of a single file is read into memory.
const maxFileSize = 10 << 20 // 10MB

// sequentialThreshold is the file count below which ingestion runs
// sequentially instead of paying for worker setup.
const sequentialThreshold = 4

// Options configures an Engine.
type Options struct {
	MaxWorkers int
	BatchSize  int
	// Extensions overrides defaultExtensions when non-empty.
	Extensions []string
}

// Result reports one ingestion run.
type Result struct {
	RunID         string
	New           int
	Modified      int
	Deleted       int
	Unchanged     int
	Skipped       int
	ChunksWritten int
	// Failed lists files that could not be ingested; the rest of the run
	// is unaffected by their failure.
	Failed   []string
	Duration time.Duration
}

// Engine walks sources and keeps the chunk store and file state in sync.
type Engine struct {
	store      Store
	state      *StateStore
	embedder   Embedder
	chunker    *Chunker
	extensions map[string]bool
	maxWorkers int
	batchSize  int
	logger     log.Logger
}

// New creates an ingestion engine.
func New(store Store, state *StateStore, embedder Embedder, chunker *Chunker, opts Options, logger log.Logger) (*Engine, error) {
	if store == nil || state == nil || embedder == nil || chunker == nil {
		return nil, errors.New("store, state, embedder and chunker are required")
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 32
	}

	extensions := make(map[string]bool)
	if len(opts.Extensions) > 0 {
		for _, ext := range opts.Extensions {
			extensions[strings.ToLower(ext)] = true
		}
	} else {
		for ext := range defaultExtensions {
			extensions[ext] = true
		}
	}

	return &Engine{
		store:      store,
		state:      state,
		embedder:   embedder,
		chunker:    chunker,
		extensions: extensions,
		maxWorkers: opts.MaxWorkers,
		batchSize:  opts.BatchSize,
		logger:     logger,
	}, nil
}

// fileOutcome is the per-file result collected from workers.
type fileOutcome struct {
	status        string // "new", "modified", "unchanged", "failed"
	chunksWritten int
}

// Index ingests one source directory. In delta mode, files with an
// unchanged content hash are skipped entirely, removed files have their
// chunks deleted, and changed files are rewritten. The reported counts
// match the actual file-set delta.
func (e *Engine) Index(ctx context.Context, source string, mode Mode) (*Result, error) {
	start := time.Now()

	absSource, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolving source path: %w", err)
	}

	// One ingestion run per source at a time. Idempotent store writes make
	// retries safe, but two concurrent runs would race on the state rows.
	lock := flock.New(e.lockPath(absSource))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring source lock: %w", err)
	}
	if !locked {
		return nil, ErrIngestRunning
	}
	defer func() { _ = lock.Unlock() }()

	result := &Result{RunID: uuid.NewString()}
	logger := e.logger.With("run_id", result.RunID, "source", absSource, "mode", mode)

	files, skipped, err := e.walkSource(absSource)
	if err != nil {
		return nil, err
	}
	result.Skipped = skipped

	prior, err := e.state.Load(ctx, absSource)
	if err != nil {
		return nil, err
	}

	// Remove files that disappeared from the source: chunks first, then the
	// state row, so a crash in between leaves no state entry pointing at
	// deleted content for longer than one reconciliation.
	current := make(map[string]bool, len(files))
	for _, f := range files {
		current[f] = true
	}
	for path, fs := range prior {
		if current[path] {
			continue
		}
		if err := e.store.DeleteByIDs(ctx, fs.ChunkIDs); err != nil {
			logger.Error("failed to delete chunks of removed file", "path", path, "error", err)
			result.Failed = append(result.Failed, path)
			continue
		}
		if err := e.state.Delete(ctx, absSource, path); err != nil {
			return nil, err
		}
		result.Deleted++
	}

	outcomes := make([]fileOutcome, len(files))
	if len(files) < sequentialThreshold {
		for i, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcomes[i] = e.processFile(ctx, logger, absSource, path, prior[path], mode)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxWorkers)
		for i, path := range files {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes[i] = e.processFile(gctx, logger, absSource, path, prior[path], mode)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for i, o := range outcomes {
		switch o.status {
		case "new":
			result.New++
		case "modified":
			result.Modified++
		case "unchanged":
			result.Unchanged++
		case "failed":
			result.Failed = append(result.Failed, files[i])
		}
		result.ChunksWritten += o.chunksWritten
	}

	result.Duration = time.Since(start)
	logger.Info("ingestion complete",
		"new", result.New, "modified", result.Modified, "deleted", result.Deleted,
		"unchanged", result.Unchanged, "failed", len(result.Failed),
		"chunks", result.ChunksWritten, "duration", result.Duration)
	return result, nil
}

// Stats reports the indexed file and chunk counts per source.
func (e *Engine) Stats(ctx context.Context) ([]SourceStats, error) {
	return e.state.Stats(ctx)
}

// processFile ingests a single file. Failures are absorbed into the
// outcome; one bad file never aborts the batch.
func (e *Engine) processFile(ctx context.Context, logger log.Logger, source, path string, old FileState, mode Mode) fileOutcome {
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read file", "path", path, "error", err)
		return fileOutcome{status: "failed"}
	}

	hash := contentHash(content)
	hadOld := old.Path != ""
	if mode == ModeDelta && hadOld && old.ContentHash == hash {
		return fileOutcome{status: "unchanged"}
	}

	docID := DocID(path)
	texts := e.chunker.Split(string(content))

	chunks := make([]chunk.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, chunk.Chunk{
			DocID:   docID,
			ID:      chunk.NewID(docID, i),
			Path:    path,
			Content: text,
			Source:  chunk.SourceKB,
			Extra: map[string]string{
				"content_hash": hash,
				"source_dir":   source,
				"file_ext":     strings.ToLower(filepath.Ext(path)),
			},
		})
	}

	// Delete the file's previous chunks before writing the new ones so a
	// shrinking document leaves no stale ordinals behind. Other files are
	// unaffected if this one fails part way.
	oldIDs := old.ChunkIDs
	if !hadOld {
		if ids, err := e.store.ListChunkIDs(ctx, docID); err == nil {
			oldIDs = ids
		}
	}
	if len(oldIDs) > 0 {
		if err := e.store.DeleteByIDs(ctx, oldIDs); err != nil {
			logger.Warn("failed to delete previous chunks", "path", path, "error", err)
			return fileOutcome{status: "failed"}
		}
	}

	written, err := e.writeChunks(ctx, chunks)
	if err != nil {
		logger.Warn("failed to write chunks", "path", path, "error", err)
		return fileOutcome{status: "failed", chunksWritten: written}
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := e.state.Put(ctx, source, FileState{Path: path, ContentHash: hash, ChunkIDs: ids}); err != nil {
		logger.Error("failed to record file state", "path", path, "error", err)
		return fileOutcome{status: "failed", chunksWritten: written}
	}

	// In full mode this point is reached for unchanged files too; the label
	// reflects the content delta, not whether chunks were rewritten.
	status := "new"
	switch {
	case hadOld && old.ContentHash == hash:
		status = "unchanged"
	case hadOld:
		status = "modified"
	}
	return fileOutcome{status: status, chunksWritten: written}
}

// writeChunks embeds and upserts chunks in batches of batchSize. A failed
// batch write is retried once with the same batch before surfacing.
func (e *Engine) writeChunks(ctx context.Context, chunks []chunk.Chunk) (int, error) {
	written := 0
	for start := 0; start < len(chunks); start += e.batchSize {
		end := min(start+e.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("embedding batch: %w", err)
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := e.store.Upsert(ctx, batch); err != nil {
			e.logger.Warn("batch upsert failed, retrying once", "error", err)
			if err := e.store.Upsert(ctx, batch); err != nil {
				return written, fmt.Errorf("upserting batch after retry: %w", err)
			}
		}
		written += len(batch)
	}
	return written, nil
}

// walkSource enumerates eligible files under root, honoring .gitignore and
// the supported extension set. Returns eligible paths and the skip count.
// Failing to enumerate the root itself is an error: an empty file list from
// a vanished root would make the removed-files pass delete the whole source.
func (e *Engine) walkSource(root string) ([]string, int, error) {
	rootInfo, err := os.Stat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("reading source: %w", err)
	}
	if !rootInfo.IsDir() {
		return nil, 0, fmt.Errorf("source %s is not a directory", root)
	}

	var gitIgnore *ignore.GitIgnore
	if _, err := os.Stat(filepath.Join(root, ".gitignore")); err == nil {
		// A malformed .gitignore is ignored rather than failing the walk.
		gitIgnore, _ = ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	}

	var files []string
	skipped := 0
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			skipped++
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			skipped++
			return nil
		}

		if info.IsDir() {
			if rel != "." && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			if gitIgnore != nil && gitIgnore.MatchesPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if gitIgnore != nil && gitIgnore.MatchesPath(rel) {
			skipped++
			return nil
		}
		if !e.extensions[strings.ToLower(filepath.Ext(path))] {
			skipped++
			return nil
		}
		if info.Size() > maxFileSize {
			skipped++
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walking source: %w", err)
	}
	return files, skipped, nil
}

// DocID derives the stable document identifier from the absolute file path.
func DocID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	return "doc_" + hex.EncodeToString(sum[:16])
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// lockPath places the per-source lock file next to the state database.
func (e *Engine) lockPath(source string) string {
	sum := sha256.Sum256([]byte(source))
	return filepath.Join(e.state.Dir(), "ingest-"+hex.EncodeToString(sum[:8])+".lock")
}
