package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/dverkh/inkwell/internal/ai"
	"github.com/dverkh/inkwell/internal/models"
	"github.com/dverkh/inkwell/internal/notestore"
)

// Completer is the gateway contract the AI routes depend on.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AIHandler wires the AI features to the store and the gateway.
//
// Each feature carries its own busy flag: a duplicate in-flight call to
// the same feature is rejected, but different features may run at once
// and race on the store. Last write wins.
type AIHandler struct {
	store  *notestore.Store
	gw     Completer
	events EventCallback

	mu   sync.Mutex
	busy map[string]bool
}

// NewAIHandler creates the AI feature handler. events may be nil.
func NewAIHandler(store *notestore.Store, gw Completer, events EventCallback) *AIHandler {
	return &AIHandler{
		store:  store,
		gw:     gw,
		events: events,
		busy:   make(map[string]bool),
	}
}

func (h *AIHandler) acquire(feature string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.busy[feature] {
		return false
	}
	h.busy[feature] = true
	return true
}

func (h *AIHandler) release(feature string) {
	h.mu.Lock()
	h.busy[feature] = false
	h.mu.Unlock()
}

// writeAIError maps gateway failures to responses. Nothing is retried;
// every failure is surfaced as user-visible text.
func writeAIError(w http.ResponseWriter, err error) {
	var reqErr *ai.RequestError
	switch {
	case errors.Is(err, ai.ErrNoCredential):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
	case errors.As(err, &reqErr):
		writeJSON(w, http.StatusBadGateway, errorBody(reqErr.Error()))
	default:
		writeJSON(w, http.StatusBadGateway, errorBody("completion request failed: "+err.Error()))
	}
}

// noteFeature runs a single-note AI feature behind its busy flag.
func (h *AIHandler) noteFeature(feature string, prompt func(models.Note) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		note, err := h.store.Get(id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorBody("note not found"))
			return
		}
		if !h.acquire(feature) {
			writeJSON(w, http.StatusConflict, errorBody(feature+" is already in progress"))
			return
		}
		defer h.release(feature)

		text, err := h.gw.Complete(r.Context(), prompt(note))
		if err != nil {
			slog.Warn("ai call failed",
				slog.String("feature", feature),
				slog.String("note_id", id),
				slog.String("error", err.Error()))
			writeAIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AIResultResponse{Feature: feature, NoteID: id, Text: text})
	}
}

// Summarize handles POST /notes/{id}/ai/summarize.
func (h *AIHandler) Summarize() http.HandlerFunc {
	return h.noteFeature("summarize", func(n models.Note) string {
		return ai.SummarizePrompt(n.Title, n.Content)
	})
}

// ExtractActions handles POST /notes/{id}/ai/actions.
func (h *AIHandler) ExtractActions() http.HandlerFunc {
	return h.noteFeature("actions", func(n models.Note) string {
		return ai.ActionItemsPrompt(n.Title, n.Content)
	})
}

// Continue handles POST /notes/{id}/ai/continue. Unlike the other
// features, the continuation is persisted back into the note.
func (h *AIHandler) Continue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	note, err := h.store.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		return
	}
	if !h.acquire("continue") {
		writeJSON(w, http.StatusConflict, errorBody("continue is already in progress"))
		return
	}
	defer h.release("continue")

	text, err := h.gw.Complete(r.Context(), ai.ContinuePrompt(note.Title, note.Content))
	if err != nil {
		slog.Warn("ai call failed",
			slog.String("feature", "continue"),
			slog.String("note_id", id),
			slog.String("error", err.Error()))
		writeAIError(w, err)
		return
	}

	// Re-read before appending: another feature may have written the
	// note while the call was in flight.
	current, err := h.store.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("note was deleted during the call"))
		return
	}
	content := current.Content
	if content != "" {
		content += "\n\n"
	}
	content += text
	updated, err := h.store.Update(id, models.Patch{Content: &content})
	if err != nil {
		slog.Error("persist continuation failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if h.events != nil {
		h.events("updated", id)
	}
	writeJSON(w, http.StatusOK, struct {
		AIResultResponse
		Note models.Note `json:"note"`
	}{
		AIResultResponse: AIResultResponse{Feature: "continue", NoteID: id, Text: text},
		Note:             updated,
	})
}

// FindRelated handles POST /notes/{id}/ai/related.
func (h *AIHandler) FindRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	note, err := h.store.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		return
	}
	if !h.acquire("related") {
		writeJSON(w, http.StatusConflict, errorBody("related is already in progress"))
		return
	}
	defer h.release("related")

	var others []ai.NoteDigest
	for _, n := range h.store.All() {
		if n.ID == id {
			continue
		}
		others = append(others, ai.NoteDigest{ID: n.ID, Title: n.Title, Content: n.Content})
	}
	target := ai.NoteDigest{ID: note.ID, Title: note.Title, Content: note.Content}

	text, err := h.gw.Complete(r.Context(), ai.RelatedPrompt(target, others))
	if err != nil {
		writeAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AIResultResponse{Feature: "related", NoteID: id, Text: text})
}

// SmartSearch handles GET /search/smart. Local substring search answers
// first; the gateway is consulted only when it finds nothing.
func (h *AIHandler) SmartSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}

	if notes := h.store.Search(q); len(notes) > 0 {
		writeJSON(w, http.StatusOK, SmartSearchResponse{Source: "local", Notes: notes})
		return
	}

	if !h.acquire("smartsearch") {
		writeJSON(w, http.StatusConflict, errorBody("smartsearch is already in progress"))
		return
	}
	defer h.release("smartsearch")

	var digests []ai.NoteDigest
	for _, n := range h.store.All() {
		digests = append(digests, ai.NoteDigest{ID: n.ID, Title: n.Title, Content: n.Content})
	}
	answer, err := h.gw.Complete(r.Context(), ai.SmartSearchPrompt(q, digests))
	if err != nil {
		writeAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SmartSearchResponse{Source: "ai", Notes: []models.Note{}, Answer: answer})
}
