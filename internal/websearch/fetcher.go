package websearch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

// PageFetcher is the crawling dependency of the Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, urls []string) []Page
}

// Budgets caps how much web content one fallback query may pull in.
type Budgets struct {
	// MaxResults caps the provider hits considered per query.
	MaxResults int

	// MaxCrawlURLs caps how many of the top results are crawled; hits
	// beyond it contribute only their provider snippet. Zero or negative
	// crawls all results.
	MaxCrawlURLs int

	// MaxContentPerURL caps the characters kept from any single page.
	MaxContentPerURL int

	// MaxTotalContent caps the characters kept across all pages of one
	// query. Once reached, remaining results are dropped.
	MaxTotalContent int
}

// Fetcher turns a query into web-sourced context items: provider search,
// crawl, extraction, and budget enforcement.
type Fetcher struct {
	provider Provider
	crawler  PageFetcher
	limiter  *rate.Limiter
	budgets  Budgets
	logger   log.Logger
}

// NewFetcher assembles the web fallback pipeline. limiter throttles
// provider queries; it may be nil to disable throttling.
func NewFetcher(provider Provider, crawler PageFetcher, limiter *rate.Limiter, budgets Budgets, logger log.Logger) (*Fetcher, error) {
	if provider == nil || crawler == nil {
		return nil, fmt.Errorf("provider and crawler are required")
	}
	if budgets.MaxResults < 1 || budgets.MaxContentPerURL < 1 || budgets.MaxTotalContent < 1 {
		return nil, fmt.Errorf("budgets must be positive: %+v", budgets)
	}
	return &Fetcher{
		provider: provider,
		crawler:  crawler,
		limiter:  limiter,
		budgets:  budgets,
		logger:   logger,
	}, nil
}

// Fetch searches the web for the query and returns budget-bounded context
// items. Provider outages degrade to an empty result with a nil error;
// only context cancellation is reported as an error.
func (f *Fetcher) Fetch(ctx context.Context, query string) ([]chunk.ContextItem, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	results, err := f.provider.Search(ctx, query, f.budgets.MaxResults)
	if err != nil {
		f.logger.Warn("web search failed", "provider", f.provider.Name(), "error", err)
		return nil, nil
	}
	if len(results) > f.budgets.MaxResults {
		results = results[:f.budgets.MaxResults]
	}
	if len(results) == 0 {
		return nil, nil
	}

	crawlCount := len(results)
	if f.budgets.MaxCrawlURLs > 0 && f.budgets.MaxCrawlURLs < crawlCount {
		crawlCount = f.budgets.MaxCrawlURLs
	}
	urls := make([]string, crawlCount)
	for i, r := range results[:crawlCount] {
		urls[i] = r.URL
	}
	crawled := make(map[string]Page, len(results))
	for _, p := range f.crawler.Fetch(ctx, urls) {
		crawled[p.URL] = p
	}

	items := make([]chunk.ContextItem, 0, len(results))
	remaining := f.budgets.MaxTotalContent
	for i, r := range results {
		if remaining <= 0 {
			break
		}

		title, content := r.Title, r.Snippet
		if page, ok := crawled[r.URL]; ok {
			content = page.Content
			if page.Title != "" {
				title = page.Title
			}
		}
		content = truncateRunes(content, min(f.budgets.MaxContentPerURL, remaining))
		if content == "" {
			continue
		}
		remaining -= len([]rune(content))

		items = append(items, chunk.ContextItem{
			Title:    title,
			Location: r.URL,
			Content:  content,
			Score:    rankScore(i, len(results)),
			Source:   chunk.SourceWeb,
			Extra:    map[string]string{"provider": f.provider.Name()},
		})
	}
	return items, nil
}

// rankScore maps provider rank onto a descending 0..1 score so web items
// can be merged with fused local scores.
func rankScore(rank, total int) float32 {
	return float32(total-rank) / float32(total)
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
