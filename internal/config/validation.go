package config

import (
	"errors"
	"fmt"
)

// Sentinel validation errors, checked with errors.Is.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidBackend indicates an unrecognized chunk store backend.
	ErrInvalidBackend = errors.New("invalid backend")

	// ErrInvalidChunking indicates inconsistent chunking parameters.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidIngest indicates out-of-range ingestion parameters.
	ErrInvalidIngest = errors.New("invalid ingest parameters")

	// ErrInvalidSearch indicates out-of-range search parameters.
	ErrInvalidSearch = errors.New("invalid search parameters")

	// ErrInvalidWeb indicates inconsistent web-fallback parameters.
	ErrInvalidWeb = errors.New("invalid web search parameters")

	// ErrMissingWebAPIKey indicates the selected web provider needs a key.
	ErrMissingWebAPIKey = errors.New("missing web search API key")

	// ErrInvalidFormat indicates an unrecognized context format style.
	ErrInvalidFormat = errors.New("invalid context format")

	// ErrInvalidPostgres indicates incomplete postgres connection settings.
	ErrInvalidPostgres = errors.New("invalid postgres settings")

	// ErrInvalidEmbedder indicates incomplete embedder settings.
	ErrInvalidEmbedder = errors.New("invalid embedder settings")
)

var validFormats = map[string]bool{
	"plain":      true,
	"structured": true,
	"tabular":    true,
	"mixed":      true,
}

// Validate checks the full configuration. Any error from here is fatal at
// startup.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Backend {
	case BackendPostgres:
		if c.Postgres.Host == "" || c.Postgres.DBName == "" || c.Postgres.User == "" {
			return fmt.Errorf("%w: host, user and dbname are required", ErrInvalidPostgres)
		}
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.Postgres.Port)
		}
	case BackendLocal:
		if c.Local.Dir == "" {
			return fmt.Errorf("%w: local.dir is required", ErrInvalidBackend)
		}
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidBackend, c.Backend, BackendPostgres, BackendLocal)
	}

	if c.Embedder.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidEmbedder)
	}
	if c.Embedder.Dimension < 1 {
		return fmt.Errorf("%w: dimension %d", ErrInvalidEmbedder, c.Embedder.Dimension)
	}

	if c.Chunking.MaxWords < 1 {
		return fmt.Errorf("%w: max_words %d", ErrInvalidChunking, c.Chunking.MaxWords)
	}
	if c.Chunking.OverlapWords < 0 || c.Chunking.OverlapWords >= c.Chunking.MaxWords {
		return fmt.Errorf("%w: overlap_words %d must be in [0, max_words)", ErrInvalidChunking, c.Chunking.OverlapWords)
	}

	if c.Ingest.MaxWorkers < 1 {
		return fmt.Errorf("%w: max_workers %d", ErrInvalidIngest, c.Ingest.MaxWorkers)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size %d", ErrInvalidIngest, c.Ingest.BatchSize)
	}

	if c.Search.MaxChunks < 1 {
		return fmt.Errorf("%w: max_chunks %d", ErrInvalidSearch, c.Search.MaxChunks)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("%w: min_score %v must be in [0, 1]", ErrInvalidSearch, c.Search.MinScore)
	}
	if c.Search.SemanticWeight < 0 || c.Search.KeywordWeight < 0 ||
		c.Search.SemanticWeight+c.Search.KeywordWeight <= 0 {
		return fmt.Errorf("%w: fusion weights must be non-negative and not both zero", ErrInvalidSearch)
	}
	if c.Search.RerankTopN < 0 {
		return fmt.Errorf("%w: rerank_top_n %d", ErrInvalidSearch, c.Search.RerankTopN)
	}

	if err := c.validateWeb(); err != nil {
		return err
	}

	if !validFormats[c.Format.Style] {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.Format.Style)
	}
	if c.Format.MaxItemChars < 1 {
		return fmt.Errorf("%w: max_item_chars %d", ErrInvalidFormat, c.Format.MaxItemChars)
	}
	if c.Format.MaxContextTokens < 1 {
		return fmt.Errorf("%w: max_context_tokens %d", ErrInvalidFormat, c.Format.MaxContextTokens)
	}

	return nil
}

func (c *Config) validateWeb() error {
	if !c.Web.Enabled {
		return nil
	}

	switch c.Web.Provider {
	case WebProviderTavily:
		if c.Web.APIKey == "" {
			return fmt.Errorf("%w: provider %q", ErrMissingWebAPIKey, c.Web.Provider)
		}
	case WebProviderSearxng:
		if c.Web.Endpoint == "" {
			return fmt.Errorf("%w: searxng requires web.endpoint", ErrInvalidWeb)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidWeb, c.Web.Provider)
	}

	if c.Web.MaxResults < 1 {
		return fmt.Errorf("%w: max_results %d", ErrInvalidWeb, c.Web.MaxResults)
	}
	if c.Web.MaxCrawlURLs < 0 || c.Web.MaxCrawlURLs > c.Web.MaxResults {
		return fmt.Errorf("%w: max_crawl_urls %d must be in [0, max_results]", ErrInvalidWeb, c.Web.MaxCrawlURLs)
	}
	if c.Web.MaxContentPerURL < 1 || c.Web.MaxTotalContent < c.Web.MaxContentPerURL {
		return fmt.Errorf("%w: content budgets must satisfy 0 < per_url <= total", ErrInvalidWeb)
	}
	return nil
}
