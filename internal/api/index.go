package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/siftd/sift/internal/ingest"
	"github.com/siftd/sift/internal/log"
)

type indexHandler struct {
	engine Ingester
	logger log.Logger
}

type indexRequest struct {
	Source string `json:"source"`
	Mode   string `json:"mode"` // "full" (default) or "delta"
}

type indexResponse struct {
	RunID         string   `json:"run_id"`
	New           int      `json:"new"`
	Modified      int      `json:"modified"`
	Deleted       int      `json:"deleted"`
	Unchanged     int      `json:"unchanged"`
	Skipped       int      `json:"skipped"`
	ChunksWritten int      `json:"chunks_written"`
	Failed        []string `json:"failed,omitempty"`
	DurationMS    int64    `json:"duration_ms"`
}

func (h *indexHandler) index(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	mode := ingest.ModeFull
	switch req.Mode {
	case "", string(ingest.ModeFull):
	case string(ingest.ModeDelta):
		mode = ingest.ModeDelta
	default:
		writeError(w, http.StatusBadRequest, "mode must be \"full\" or \"delta\"")
		return
	}

	result, err := h.engine.Index(r.Context(), req.Source, mode)
	if err != nil {
		if errors.Is(err, ingest.ErrIngestRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("ingestion failed", "source", req.Source, "error", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, indexResponse{
		RunID:         result.RunID,
		New:           result.New,
		Modified:      result.Modified,
		Deleted:       result.Deleted,
		Unchanged:     result.Unchanged,
		Skipped:       result.Skipped,
		ChunksWritten: result.ChunksWritten,
		Failed:        result.Failed,
		DurationMS:    result.Duration.Milliseconds(),
	})
}

func (h *indexHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.logger.Error("reading index stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reading index stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": stats})
}
