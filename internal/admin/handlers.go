// Package admin exposes the daemon's read-only HTTP surface: health
// probes, open-kiln introspection, search, and the SSE event stream.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/kilnd/internal/apperr"
	"github.com/starford/kilnd/internal/kiln"
)

const defaultSearchLimit = 20

// Handler holds admin route handlers.
type Handler struct {
	manager *kiln.Manager
}

// NewHandler creates a new Handler.
func NewHandler(manager *kiln.Manager) *Handler {
	return &Handler{manager: manager}
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"open_kilns": len(h.manager.List()),
	})
}

// ListKilns handles GET /api/kilns.
func (h *Handler) ListKilns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"kilns": h.manager.List()})
}

// KilnStats handles GET /api/kilns/stats?path=.
func (h *Handler) KilnStats(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	k, err := h.manager.Get(path)
	if err != nil {
		writeJSON(w, kilnStatus(err), errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":  k.Root(),
		"queue": k.QueueStats(),
	})
}

// Search handles GET /api/search?path=&q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	query := q.Get("q")
	if path == "" || query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and q are required"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	k, err := h.manager.Get(path)
	if err != nil {
		writeJSON(w, kilnStatus(err), errorBody(err.Error()))
		return
	}
	results, err := k.Search(r.Context(), query, limit)
	if err != nil {
		slog.Error("search failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

// kilnStatus maps manager lookup failures to HTTP status codes.
func kilnStatus(err error) int {
	if errors.Is(err, apperr.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
