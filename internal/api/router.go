package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dverkh/inkwell/internal/notestore"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events (may be nil) is called after each successful mutation.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(store *notestore.Store, gw Completer, authEnabled bool, token string, events EventCallback, sseHandler http.Handler) chi.Router {
	h := NewHandler(store, events)
	aih := NewAIHandler(store, gw, events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Patch("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// Attachments.
	r.Post("/notes/{id}/attachments", h.AddAttachment)
	r.Delete("/notes/{id}/attachments/{attID}", h.RemoveAttachment)

	// Search.
	r.Get("/search", h.Search)
	r.Get("/search/smart", aih.SmartSearch)

	// Export / import.
	r.Get("/export", h.Export)
	r.Post("/import", h.Import)

	// AI features.
	r.Post("/notes/{id}/ai/summarize", aih.Summarize())
	r.Post("/notes/{id}/ai/continue", aih.Continue)
	r.Post("/notes/{id}/ai/actions", aih.ExtractActions())
	r.Post("/notes/{id}/ai/related", aih.FindRelated)

	// SSE endpoint (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
