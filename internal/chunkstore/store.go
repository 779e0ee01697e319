// Package chunkstore provides the backend-agnostic contract for storing and
// querying chunks, with one implementation per supported backend selected by
// a factory keyed on configuration. Callers never branch on backend kind.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

// Backend identifiers accepted by New.
const (
	BackendPostgres = "postgres"
	BackendLocal    = "local"
)

// ErrUnknownBackend indicates the configured backend kind is not supported.
// This is a fatal startup error; the service must not run without a store.
var ErrUnknownBackend = errors.New("unknown chunk store backend")

// Store is the uniform contract over heterogeneous vector backends.
//
// Guarantees required of every implementation:
//   - Upsert is idempotent: a chunk with an existing ID replaces the prior
//     content.
//   - DeleteByIDs ignores ids that do not exist.
//   - Query results carry a populated Score; stored chunks never do.
type Store interface {
	// Upsert writes chunks, replacing any existing chunk with the same ID.
	Upsert(ctx context.Context, chunks []chunk.Chunk) error

	// DeleteByIDs removes chunks by ID. Missing ids are a no-op.
	DeleteByIDs(ctx context.Context, ids []string) error

	// QuerySemantic returns the k chunks most similar to the query vector,
	// ordered by descending similarity (0..1).
	QuerySemantic(ctx context.Context, vector []float32, k int) ([]chunk.Chunk, error)

	// QueryKeyword returns up to k chunks matching the lexical terms,
	// ordered by descending relevance score.
	QueryKeyword(ctx context.Context, terms []string, k int) ([]chunk.Chunk, error)

	// ListChunkIDs returns the ids of all chunks belonging to a document.
	ListChunkIDs(ctx context.Context, docID string) ([]string, error)

	// Kind reports the backend identifier, for health reporting.
	Kind() string

	// Close releases backend resources.
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	// Backend is one of BackendPostgres or BackendLocal.
	Backend string

	// DSN is the Postgres connection string (postgres backend only).
	DSN string

	// Dir is the on-disk index directory (local backend only).
	Dir string

	// Dimension is the embedding vector dimension.
	Dimension int

	// QueryTimeout bounds every backend call. Zero means DefaultQueryTimeout.
	QueryTimeout time.Duration
}

// DefaultQueryTimeout bounds backend calls when none is configured.
const DefaultQueryTimeout = 10 * time.Second

// New creates the Store selected by cfg.Backend.
// An unrecognized backend kind returns ErrUnknownBackend.
func New(ctx context.Context, cfg Config, logger log.Logger) (Store, error) {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	switch cfg.Backend {
	case BackendPostgres:
		return NewPostgres(ctx, cfg, logger)
	case BackendLocal:
		return NewLocal(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
