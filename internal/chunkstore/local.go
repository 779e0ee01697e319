package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	chromem "github.com/philippgille/chromem-go"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

// Local is the embedded backend: a chromem-go collection serves semantic
// queries over stored embeddings and a bleve index serves keyword queries
// and per-document id listing. Both live under one directory and are
// updated together on every write, so no external infrastructure is needed.
type Local struct {
	db     *chromem.DB
	coll   *chromem.Collection
	index  bleve.Index
	logger log.Logger
}

const localCollection = "chunks"

// maxDocChunks bounds ListChunkIDs result pages. A single document never
// produces anywhere near this many chunks under sane chunking settings.
const maxDocChunks = 10000

// Metadata keys reserved for well-known chunk fields inside the chromem
// collection; everything else round-trips through Chunk.Extra.
const (
	metaDocID  = "doc_id"
	metaPath   = "path"
	metaSource = "source"
)

// NewLocal opens (or creates) the persistent chromem collection and bleve
// index under cfg.Dir.
func NewLocal(cfg Config, logger log.Logger) (*Local, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Dir, "vectors"), false)
	if err != nil {
		return nil, fmt.Errorf("opening vector db: %w", err)
	}

	// Embeddings are always supplied by the caller, so the collection's own
	// embedding func must never run.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("local store requires precomputed embeddings")
	}
	coll, err := db.GetOrCreateCollection(localCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("opening collection: %w", err)
	}

	idxPath := filepath.Join(cfg.Dir, "keyword.bleve")
	index, err := bleve.Open(idxPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		index, err = bleve.New(idxPath, buildKeywordMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening keyword index: %w", err)
	}

	return &Local{db: db, coll: coll, index: index, logger: logger}, nil
}

func buildKeywordMapping() mapping.IndexMapping {
	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name

	content := bleve.NewTextFieldMapping()

	stored := bleve.NewTextFieldMapping()
	stored.Index = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("doc_id", exact)
	doc.AddFieldMappingsAt("path", exact)
	doc.AddFieldMappingsAt("source", exact)
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("extra", stored)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Upsert replaces existing chunks by id, then writes the new content to the
// vector collection and the keyword index.
func (s *Local) Upsert(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// Delete-then-insert gives idempotent upsert semantics on the vector
	// collection; ids that do not exist yet are ignored.
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	if s.coll.Count() > 0 {
		if err := s.coll.Delete(ctx, nil, nil, ids...); err != nil {
			return fmt.Errorf("replacing existing chunks: %w", err)
		}
	}

	docs := make([]chromem.Document, 0, len(chunks))
	batch := s.index.NewBatch()
	for _, c := range chunks {
		meta := map[string]string{
			metaDocID:  c.DocID,
			metaPath:   c.Path,
			metaSource: sourceOrKB(c.Source),
		}
		for k, v := range c.Extra {
			if k != metaDocID && k != metaPath && k != metaSource {
				meta[k] = v
			}
		}
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Metadata:  meta,
			Embedding: c.Embedding,
			Content:   c.Content,
		})

		extraJSON, err := json.Marshal(c.Extra)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %q: %w", c.ID, err)
		}
		if err := batch.Index(c.ID, map[string]any{
			"doc_id":  c.DocID,
			"path":    c.Path,
			"source":  sourceOrKB(c.Source),
			"content": c.Content,
			"extra":   string(extraJSON),
		}); err != nil {
			return fmt.Errorf("indexing chunk %q: %w", c.ID, err)
		}
	}

	if err := s.coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding chunks to vector store: %w", err)
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("writing keyword batch: %w", err)
	}

	s.logger.Debug("upserted chunks", "count", len(chunks))
	return nil
}

// DeleteByIDs removes chunks from both indexes. Missing ids are ignored.
func (s *Local) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if s.coll.Count() > 0 {
		if err := s.coll.Delete(ctx, nil, nil, ids...); err != nil {
			return fmt.Errorf("deleting from vector store: %w", err)
		}
	}

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("deleting from keyword index: %w", err)
	}
	return nil
}

// QuerySemantic returns the k nearest chunks by cosine similarity.
func (s *Local) QuerySemantic(ctx context.Context, vector []float32, k int) ([]chunk.Chunk, error) {
	// chromem rejects nResults larger than the collection size.
	if count := s.coll.Count(); count < k {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := s.coll.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic query: %w", err)
	}

	out := make([]chunk.Chunk, 0, len(results))
	for _, r := range results {
		c := chunk.Chunk{
			ID:      r.ID,
			Content: r.Content,
			Score:   r.Similarity,
		}
		extra := make(map[string]string)
		for k, v := range r.Metadata {
			switch k {
			case metaDocID:
				c.DocID = v
			case metaPath:
				c.Path = v
			case metaSource:
				c.Source = v
			default:
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			c.Extra = extra
		}
		out = append(out, c)
	}
	return out, nil
}

// QueryKeyword matches terms against chunk content via the bleve index.
func (s *Local) QueryKeyword(ctx context.Context, terms []string, k int) ([]chunk.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	q := bleve.NewMatchQuery(strings.Join(terms, " "))
	q.SetField("content")

	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"doc_id", "path", "source", "content", "extra"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}

	out := make([]chunk.Chunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c := chunk.Chunk{
			ID:      hit.ID,
			DocID:   fieldString(hit.Fields, "doc_id"),
			Path:    fieldString(hit.Fields, "path"),
			Source:  fieldString(hit.Fields, "source"),
			Content: fieldString(hit.Fields, "content"),
			Score:   float32(hit.Score),
		}
		if raw := fieldString(hit.Fields, "extra"); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &c.Extra); err != nil {
				s.logger.Warn("unparseable chunk metadata", "chunk_id", c.ID, "error", err)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// ListChunkIDs returns the ids of all chunks for a document, in chunk order.
func (s *Local) ListChunkIDs(ctx context.Context, docID string) ([]string, error) {
	q := bleve.NewTermQuery(docID)
	q.SetField("doc_id")

	req := bleve.NewSearchRequestOptions(q, maxDocChunks, 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing chunk ids: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	sort.Strings(ids) // chunk ids embed a zero-padded ordinal
	return ids, nil
}

// Kind reports the backend identifier.
func (*Local) Kind() string { return BackendLocal }

// Close closes the keyword index; the vector collection persists per write.
func (s *Local) Close() error {
	return s.index.Close()
}

func fieldString(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
