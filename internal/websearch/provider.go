// Package websearch implements the web fallback: a search provider yields
// candidate URLs, a crawler extracts readable page content under strict
// content budgets, and the results are normalized into context items.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Result is one hit returned by a search provider.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Provider performs a web search and returns ranked results.
type Provider interface {
	// Search returns up to maxResults hits for the query, best first.
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)

	// Name identifies the provider in logs.
	Name() string
}

// ErrUnknownProvider is returned for an unrecognized provider name.
var ErrUnknownProvider = errors.New("unknown search provider")

// ProviderConfig selects and configures a search provider.
type ProviderConfig struct {
	// Name is "tavily" or "searxng".
	Name string

	// APIKey authenticates against hosted providers (tavily).
	APIKey string

	// BaseURL overrides the provider endpoint. Required for searxng,
	// optional for tavily.
	BaseURL string

	// Timeout bounds each provider request.
	Timeout time.Duration
}

// Provider names accepted by NewProvider.
const (
	ProviderTavily  = "tavily"
	ProviderSearXNG = "searxng"
)

// NewProvider builds the configured search provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Name {
	case ProviderTavily:
		if cfg.APIKey == "" {
			return nil, errors.New("tavily requires an API key")
		}
		return newTavily(cfg.APIKey, cfg.BaseURL, client), nil
	case ProviderSearXNG:
		if cfg.BaseURL == "" {
			return nil, errors.New("searxng requires a base URL")
		}
		return newSearXNG(cfg.BaseURL, client), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}
