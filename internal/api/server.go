// Package api exposes the indexing and query operations over a small JSON
// HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/siftd/sift/internal/ingest"
	"github.com/siftd/sift/internal/log"
	"github.com/siftd/sift/internal/rag"
)

// Ingester is the ingestion dependency of the server.
type Ingester interface {
	Index(ctx context.Context, source string, mode ingest.Mode) (*ingest.Result, error)
	Stats(ctx context.Context) ([]ingest.SourceStats, error)
}

// Answerer is the query dependency of the server.
type Answerer interface {
	Answer(ctx context.Context, query string) (*rag.Response, error)
}

// ServerConfig contains the dependencies of the API server.
type ServerConfig struct {
	Logger   log.Logger
	Ingester Ingester
	Answerer Answerer
	Backend  string // reported by the health endpoint
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ingester == nil || cfg.Answerer == nil {
		return nil, errors.New("ingester and answerer are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ih := &indexHandler{engine: cfg.Ingester, logger: logger}
	sh := &searchHandler{engine: cfg.Answerer, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", healthHandler(cfg.Backend))
	mux.HandleFunc("GET /api/v1/stats", ih.stats)
	mux.HandleFunc("POST /api/v1/index", ih.index)
	mux.HandleFunc("POST /api/v1/search", sh.search)

	return &Server{mux: mux}, nil
}

// Handler returns the http handler for mounting or serving.
func (s *Server) Handler() http.Handler {
	return s.mux
}
