package retrieve

import (
	"context"
	"sort"
	"strings"

	"github.com/siftd/sift/internal/chunk"
)

// LexicalReranker reorders a shortlist by query-term overlap: the fraction
// of distinct query terms appearing in each item's content. It is a cheap
// stand-in for a cross-encoder; ties keep the incoming order.
type LexicalReranker struct{}

// NewLexicalReranker returns a reranker using lexical term overlap.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

// Rerank reorders items by descending overlap with the query terms. It
// never errors and never changes the set of items.
func (lr *LexicalReranker) Rerank(_ context.Context, query string, items []chunk.ContextItem) ([]chunk.ContextItem, error) {
	terms := queryTerms(query)
	if len(terms) == 0 || len(items) < 2 {
		return items, nil
	}

	distinct := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		distinct[t] = struct{}{}
	}

	type scored struct {
		item    chunk.ContextItem
		overlap float64
	}
	ranked := make([]scored, len(items))
	for i, it := range items {
		ranked[i] = scored{item: it, overlap: overlap(distinct, it.Content)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].overlap > ranked[j].overlap
	})

	out := make([]chunk.ContextItem, len(items))
	for i, s := range ranked {
		out[i] = s.item
	}
	return out, nil
}

// overlap returns the fraction of distinct query terms present in content.
func overlap(terms map[string]struct{}, content string) float64 {
	lower := strings.ToLower(content)
	hits := 0
	for t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
