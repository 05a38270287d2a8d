package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kilnd/internal/kiln"
)

// NewRouter creates a chi router with all admin routes mounted.
// sseHandler, if non-nil, is mounted at GET /api/events.
func NewRouter(manager *kiln.Manager, sseHandler http.Handler) chi.Router {
	h := NewHandler(manager)

	r := chi.NewRouter()

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)

	r.Get("/api/kilns", h.ListKilns)
	r.Get("/api/kilns/stats", h.KilnStats)
	r.Get("/api/search", h.Search)

	if sseHandler != nil {
		r.Get("/api/events", sseHandler.ServeHTTP)
	}

	return r
}
