package api

import "net/http"

// healthHandler reports liveness and the configured storage backend.
func healthHandler(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": backend,
		})
	}
}
