package chunkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

// Postgres stores chunks in PostgreSQL with pgvector cosine similarity for
// semantic queries and full-text search for keyword queries. The schema is
// owned by db/migrations.
//
// Safe for concurrent use; the pool handles connection management.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  log.Logger
}

// NewPostgres connects a pool with pgvector type support registered and
// returns the store. The pool is owned by the store and closed with it.
func NewPostgres(ctx context.Context, cfg Config, logger log.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &Postgres{pool: pool, timeout: cfg.QueryTimeout, logger: logger}, nil
}

// Upsert writes chunks in a single batch round-trip.
// ON CONFLICT makes the write idempotent by chunk id.
func (s *Postgres) Upsert(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Extra)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %q: %w", c.ID, err)
		}
		batch.Queue(`
			INSERT INTO chunks (id, doc_id, path, content, embedding, source, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO UPDATE SET
				doc_id = EXCLUDED.doc_id,
				path = EXCLUDED.path,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				source = EXCLUDED.source,
				metadata = EXCLUDED.metadata`,
			c.ID, c.DocID, c.Path, c.Content,
			pgvector.NewVector(c.Embedding), sourceOrKB(c.Source), meta)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting chunks: %w", err)
		}
	}

	s.logger.Debug("upserted chunks", "count", len(chunks))
	return nil
}

// DeleteByIDs removes chunks by id. Missing ids delete zero rows, not an error.
func (s *Postgres) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// QuerySemantic runs a cosine-similarity search over the embedding column.
func (s *Postgres) QuerySemantic(ctx context.Context, vector []float32, k int) ([]chunk.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, doc_id, path, content, source, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("semantic query: %w", err)
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// QueryKeyword runs a full-text search; terms are combined with OR so any
// matching term contributes to the ts_rank_cd relevance score.
func (s *Postgres) QueryKeyword(ctx context.Context, terms []string, k int) ([]chunk.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := strings.Join(terms, " OR ")
	rows, err := s.pool.Query(ctx, `
		SELECT id, doc_id, path, content, source, metadata,
		       ts_rank_cd(tsv, q) AS score
		FROM chunks, websearch_to_tsquery('english', $1) AS q
		WHERE tsv @@ q
		ORDER BY score DESC
		LIMIT $2`,
		query, k)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// ListChunkIDs returns the ids of all chunks for a document, in chunk order.
func (s *Postgres) ListChunkIDs(ctx context.Context, docID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT id FROM chunks WHERE doc_id = $1 ORDER BY id`, docID)
	if err != nil {
		return nil, fmt.Errorf("listing chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Kind reports the backend identifier.
func (*Postgres) Kind() string { return BackendPostgres }

// Close closes the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the underlying pool for migrations and health checks.
func (s *Postgres) Pool() *pgxpool.Pool { return s.pool }

func (s *Postgres) scanChunks(rows pgx.Rows) ([]chunk.Chunk, error) {
	var out []chunk.Chunk
	for rows.Next() {
		var (
			c     chunk.Chunk
			meta  []byte
			score float64
		)
		if err := rows.Scan(&c.ID, &c.DocID, &c.Path, &c.Content, &c.Source, &meta, &score); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		c.Score = float32(score)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Extra); err != nil {
				s.logger.Warn("unparseable chunk metadata", "chunk_id", c.ID, "error", err)
				c.Extra = nil
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func sourceOrKB(source string) string {
	if source == "" {
		return chunk.SourceKB
	}
	return source
}
