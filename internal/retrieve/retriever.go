// Package retrieve implements hybrid retrieval: semantic and keyword
// queries run concurrently against the chunk store, results are fused into
// one ranked list, and a score-gated web fallback augments the list when
// local knowledge is too weak.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

// Store is the query surface of the chunk store needed here.
type Store interface {
	QuerySemantic(ctx context.Context, vector []float32, k int) ([]chunk.Chunk, error)
	QueryKeyword(ctx context.Context, terms []string, k int) ([]chunk.Chunk, error)
}

// Embedder is the black-box embedding dependency.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// WebFetcher supplies web-search context items when local scores are weak.
type WebFetcher interface {
	Fetch(ctx context.Context, query string) ([]chunk.ContextItem, error)
}

// Reranker reorders a retrieval shortlist. Implementations must return the
// same items, possibly reordered; they never add or drop items.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []chunk.ContextItem) ([]chunk.ContextItem, error)
}

// Options tunes fusion and the fallback gate.
type Options struct {
	// MinScore gates the web fallback: if the mean fused score of the
	// returned results is below it (or no results exist), the fallback runs.
	MinScore float64

	// SemanticWeight and KeywordWeight combine the max-normalized scores of
	// the two query legs: fused = sw*semantic + kw*keyword. Normalizing per
	// leg keeps fused scores on the 0..1 scale MinScore thresholds against.
	SemanticWeight float64
	KeywordWeight  float64

	// RerankTopN reranks only the top N fused results before truncation.
	// Zero disables reranking.
	RerankTopN int
}

// Retriever runs hybrid searches against a chunk store.
type Retriever struct {
	store    Store
	embedder Embedder
	web      WebFetcher // nil disables the fallback
	reranker Reranker   // nil disables reranking
	opts     Options
	logger   log.Logger
}

// New creates a Retriever. web and reranker may be nil.
func New(store Store, embedder Embedder, web WebFetcher, reranker Reranker, opts Options, logger log.Logger) (*Retriever, error) {
	if store == nil || embedder == nil {
		return nil, errors.New("store and embedder are required")
	}
	if opts.SemanticWeight < 0 || opts.KeywordWeight < 0 || opts.SemanticWeight+opts.KeywordWeight <= 0 {
		return nil, errors.New("fusion weights must be non-negative and not both zero")
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		web:      web,
		reranker: reranker,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Search returns up to k context items for the query and whether the web
// fallback contributed. An empty result with a nil error means no context
// is available; callers decide how to proceed.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]chunk.ContextItem, bool, error) {
	if k < 1 {
		return nil, false, fmt.Errorf("k must be positive, got %d", k)
	}

	semantic, keyword, err := r.queryBoth(ctx, query, k)
	if err != nil {
		return nil, false, err
	}

	items := fuse(semantic, keyword, r.opts.SemanticWeight, r.opts.KeywordWeight)

	if r.reranker != nil && r.opts.RerankTopN > 0 && len(items) > 1 {
		n := min(r.opts.RerankTopN, len(items))
		reranked, err := r.reranker.Rerank(ctx, query, items[:n])
		if err != nil {
			// Reranking is an optional quality pass; keep the fused order.
			r.logger.Warn("reranking failed", "error", err)
		} else {
			items = append(reranked, items[n:]...)
		}
	}

	if len(items) > k {
		items = items[:k]
	}

	if r.web == nil || !r.needsWebFallback(items) {
		return items, false, nil
	}

	webItems, err := r.web.Fetch(ctx, query)
	if err != nil {
		// No web augmentation available; local results stand alone.
		r.logger.Warn("web fallback failed", "error", err)
		return items, false, nil
	}
	if len(webItems) == 0 {
		return items, false, nil
	}

	merged := mergeWeb(items, webItems, k)
	return merged, true, nil
}

// queryBoth runs the two retrieval legs concurrently. One failed leg
// degrades to the other; both failing is a hard error.
func (r *Retriever) queryBoth(ctx context.Context, query string, k int) ([]chunk.Chunk, []chunk.Chunk, error) {
	var (
		semantic, keyword []chunk.Chunk
		semErr, kwErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectors, err := r.embedder.Embed(gctx, []string{query})
		if err != nil {
			semErr = fmt.Errorf("embedding query: %w", err)
			return nil
		}
		semantic, semErr = r.store.QuerySemantic(gctx, vectors[0], k)
		return nil
	})
	g.Go(func() error {
		keyword, kwErr = r.store.QueryKeyword(gctx, queryTerms(query), k)
		return nil
	})
	_ = g.Wait()

	if semErr != nil && kwErr != nil {
		return nil, nil, fmt.Errorf("both retrieval legs failed: %w", errors.Join(semErr, kwErr))
	}
	if semErr != nil {
		r.logger.Warn("semantic query failed, keyword results only", "error", semErr)
	}
	if kwErr != nil {
		r.logger.Warn("keyword query failed, semantic results only", "error", kwErr)
	}
	return semantic, keyword, nil
}

// needsWebFallback reports whether the mean fused score of the results is
// below the configured threshold.
func (r *Retriever) needsWebFallback(items []chunk.ContextItem) bool {
	if len(items) == 0 {
		return true
	}
	var sum float64
	for _, it := range items {
		sum += float64(it.Score)
	}
	return sum/float64(len(items)) < r.opts.MinScore
}

// fuse combines the two result lists by weighted sum of max-normalized
// scores and returns context items ordered by descending fused score.
func fuse(semantic, keyword []chunk.Chunk, semanticWeight, keywordWeight float64) []chunk.ContextItem {
	type fused struct {
		c     chunk.Chunk
		score float64
	}

	byID := make(map[string]*fused)
	add := func(chunks []chunk.Chunk, weight float64) {
		norm := maxScore(chunks)
		for _, c := range chunks {
			contribution := 0.0
			if norm > 0 {
				contribution = weight * float64(c.Score) / norm
			}
			if f, ok := byID[c.ID]; ok {
				f.score += contribution
				continue
			}
			byID[c.ID] = &fused{c: c, score: contribution}
		}
	}
	add(semantic, semanticWeight)
	add(keyword, keywordWeight)

	all := make([]*fused, 0, len(byID))
	for _, f := range byID {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].c.ID < all[j].c.ID // deterministic order for equal scores
	})

	items := make([]chunk.ContextItem, len(all))
	for i, f := range all {
		f.c.Score = float32(f.score)
		items[i] = chunk.FromChunk(f.c)
	}
	return items
}

// mergeWeb appends web items to the local results and truncates to k,
// preferring higher-scored items with local results winning ties.
func mergeWeb(local, web []chunk.ContextItem, k int) []chunk.ContextItem {
	merged := make([]chunk.ContextItem, 0, len(local)+len(web))
	merged = append(merged, local...)
	merged = append(merged, web...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

func maxScore(chunks []chunk.Chunk) float64 {
	var m float64
	for _, c := range chunks {
		if s := float64(c.Score); s > m {
			m = s
		}
	}
	return m
}

// queryTerms lowercases and splits the query for the keyword leg.
func queryTerms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}
