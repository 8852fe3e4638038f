package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes.
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.PutNote)
	r.Delete("/notes/*", h.DeleteNote)
	r.Post("/rename", h.RenameNote)
	r.Get("/recent", h.RecentNotes)

	// Editor.
	r.Get("/buffers/*", h.OpenBuffer)
	r.Post("/autosave", h.Autosave)
	r.Post("/navigate", h.Navigate)

	// Search.
	r.Get("/search", h.Search)
	r.Get("/suggestions", h.Suggestions)
	r.Get("/rename-suggestions", h.RenameSuggestions)

	// Index maintenance.
	r.Post("/sync", h.Sync)
	r.Get("/index/state", h.IndexState)
	r.Post("/index/migrate", h.Migrate)
	r.Post("/index/rebuild", h.Rebuild)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
