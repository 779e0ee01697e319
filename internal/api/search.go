package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/siftd/sift/internal/chunk"
	"github.com/siftd/sift/internal/log"
)

type searchHandler struct {
	engine Answerer
	logger log.Logger
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Answer        string              `json:"answer,omitempty"`
	Contexts      []chunk.ContextItem `json:"contexts,omitempty"`
	Format        string              `json:"format,omitempty"`
	ContextTokens int                 `json:"context_tokens,omitempty"`
	UsedWeb       bool                `json:"used_web"`
	NoContext     bool                `json:"no_context"`
}

func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.engine.Answer(r.Context(), req.Query)
	if err != nil {
		h.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Answer:        resp.Answer,
		Contexts:      resp.Contexts,
		Format:        resp.Format,
		ContextTokens: resp.ContextTokens,
		UsedWeb:       resp.UsedWeb,
		NoContext:     resp.NoContext,
	})
}
