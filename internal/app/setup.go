// Package app wires the application components together. Construction is
// explicit and ordered: config, logger, genkit, store, state, engines. Each
// component receives its dependencies through its constructor.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"

	"github.com/siftd/sift/db"
	"github.com/siftd/sift/internal/chunkstore"
	"github.com/siftd/sift/internal/config"
	"github.com/siftd/sift/internal/contextfmt"
	"github.com/siftd/sift/internal/embed"
	"github.com/siftd/sift/internal/ingest"
	"github.com/siftd/sift/internal/log"
	"github.com/siftd/sift/internal/rag"
	"github.com/siftd/sift/internal/retrieve"
	"github.com/siftd/sift/internal/websearch"
)

// App holds the wired components and owns their shutdown order.
type App struct {
	Config    *config.Config
	Logger    log.Logger
	Store     chunkstore.Store
	Ingester  *ingest.Engine
	Retriever *retrieve.Retriever
	Engine    *rag.Engine

	cleanups []func()
}

// Setup loads configuration and constructs the full component graph.
// Call Close when done to release the store and state database.
func Setup(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.New(log.Config{Level: logLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	a := &App{Config: cfg, Logger: logger}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	embedder := embed.New(googlegenai.GoogleAIEmbedder(g, cfg.Embedder.Model))

	if cfg.Backend == config.BackendPostgres {
		if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}

	store, err := chunkstore.New(ctx, chunkstore.Config{
		Backend:   cfg.Backend,
		DSN:       cfg.PostgresDSN(),
		Dir:       cfg.Local.Dir,
		Dimension: cfg.Embedder.Dimension,
	}, logger.With("component", "chunkstore"))
	if err != nil {
		return nil, fmt.Errorf("opening chunk store: %w", err)
	}
	a.Store = store
	a.onClose(func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing chunk store", "error", err)
		}
	})

	state, err := ingest.OpenState(cfg.Ingest.StateDB)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	a.onClose(func() {
		if err := state.Close(); err != nil {
			logger.Warn("closing state database", "error", err)
		}
	})

	chunker, err := ingest.NewChunker(cfg.Chunking.MaxWords, cfg.Chunking.OverlapWords)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ingester, err = ingest.New(store, state, embedder, chunker, ingest.Options{
		MaxWorkers: cfg.Ingest.MaxWorkers,
		BatchSize:  cfg.Ingest.BatchSize,
	}, logger.With("component", "ingest"))
	if err != nil {
		a.Close()
		return nil, err
	}

	web, err := buildWebFetcher(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var reranker retrieve.Reranker
	if cfg.Search.RerankTopN > 0 {
		reranker = retrieve.NewLexicalReranker()
	}
	a.Retriever, err = retrieve.New(store, embedder, web, reranker, retrieve.Options{
		MinScore:       cfg.Search.MinScore,
		SemanticWeight: cfg.Search.SemanticWeight,
		KeywordWeight:  cfg.Search.KeywordWeight,
		RerankTopN:     cfg.Search.RerankTopN,
	}, logger.With("component", "retrieve"))
	if err != nil {
		a.Close()
		return nil, err
	}

	formatter := contextfmt.New(contextfmt.Options{
		MaxItemChars: cfg.Format.MaxItemChars,
	}, contextfmt.NewTokenCounter(logger), logger.With("component", "contextfmt"))

	var completer rag.Completer
	if cfg.Embedder.CompletionModel != "" {
		completer = rag.NewGenkitCompleter(g, cfg.Embedder.CompletionModel)
	}
	a.Engine, err = rag.New(a.Retriever, formatter, completer, rag.Options{
		MaxChunks:        cfg.Search.MaxChunks,
		Style:            cfg.Format.Style,
		MaxContextTokens: cfg.Format.MaxContextTokens,
	}, logger.With("component", "rag"))
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close releases components in reverse construction order.
func (a *App) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

func (a *App) onClose(f func()) {
	a.cleanups = append(a.cleanups, f)
}

// buildWebFetcher assembles the fallback pipeline, or returns nil when the
// web fallback is disabled.
func buildWebFetcher(cfg *config.Config, logger log.Logger) (retrieve.WebFetcher, error) {
	if !cfg.Web.Enabled {
		return nil, nil
	}

	provider, err := websearch.NewProvider(websearch.ProviderConfig{
		Name:    cfg.Web.Provider,
		APIKey:  cfg.Web.APIKey,
		BaseURL: cfg.Web.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring web search provider: %w", err)
	}

	wlog := logger.With("component", "websearch")
	crawler := websearch.NewCrawler(cfg.Web.MaxCrawlURLs, 10*time.Second, wlog)
	limiter := rate.NewLimiter(rate.Every(time.Second), 2)

	fetcher, err := websearch.NewFetcher(provider, crawler, limiter, websearch.Budgets{
		MaxResults:       cfg.Web.MaxResults,
		MaxCrawlURLs:     cfg.Web.MaxCrawlURLs,
		MaxContentPerURL: cfg.Web.MaxContentPerURL,
		MaxTotalContent:  cfg.Web.MaxTotalContent,
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("configuring web fetcher: %w", err)
	}
	return fetcher, nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
