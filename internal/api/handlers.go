package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dverkh/inkwell/internal/apperr"
	"github.com/dverkh/inkwell/internal/models"
	"github.com/dverkh/inkwell/internal/notestore"
)

const maxBodyBytes = 20 << 20 // data URLs make note bodies large

// EventCallback is invoked after each successful mutation.
// kind is one of "created", "updated", "deleted", "imported".
type EventCallback func(kind, id string)

// Handler holds the note CRUD, search, and import/export routes.
type Handler struct {
	store  *notestore.Store
	events EventCallback
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(store *notestore.Store, events EventCallback) *Handler {
	return &Handler{store: store, events: events}
}

func (h *Handler) publish(kind, id string) {
	if h.events != nil {
		h.events(kind, id)
	}
}

// ListNotes handles GET /notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes := h.store.All()
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// GetNote handles GET /notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	note, err := h.store.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" && req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title or content is required"))
		return
	}
	note, err := h.store.Create(models.Note{Title: req.Title, Content: req.Content})
	if err != nil {
		slog.Error("create note failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	h.publish("created", note.ID)
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PATCH /notes/{id}.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	id := chi.URLParam(r, "id")
	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == nil && req.Content == nil && req.Attachments == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("patch has no fields"))
		return
	}
	note, err := h.store.Update(id, models.Patch{
		Title:       req.Title,
		Content:     req.Content,
		Attachments: req.Attachments,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		} else {
			slog.Error("update note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	h.publish("updated", note.ID)
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.store.Delete(id)
	if err != nil {
		slog.Error("delete note failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		return
	}
	h.publish("deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// AddAttachment handles POST /notes/{id}/attachments.
func (h *Handler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	id := chi.URLParam(r, "id")
	var req AddAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.DataURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("dataUrl is required"))
		return
	}
	att := models.NewAttachment(req.Name, req.Type, req.DataURL, req.Size)
	note, err := h.store.AddAttachment(id, att)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		} else {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		}
		return
	}
	h.publish("updated", note.ID)
	writeJSON(w, http.StatusCreated, note)
}

// RemoveAttachment handles DELETE /notes/{id}/attachments/{attID}.
func (h *Handler) RemoveAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	attID := chi.URLParam(r, "attID")
	note, err := h.store.RemoveAttachment(id, attID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("attachment not found"))
		} else {
			slog.Error("remove attachment failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	h.publish("updated", note.ID)
	writeJSON(w, http.StatusOK, note)
}

// Search handles GET /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	notes := h.store.Search(q)
	if notes == nil {
		notes = []models.Note{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// Export handles GET /export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	payload, err := h.store.Export()
	if err != nil {
		slog.Error("export failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	filename := fmt.Sprintf("notes-export-%s.json", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// Import handles POST /import. The body is the raw payload the user
// selected; validation failures map to cause-specific messages.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	res, err := h.store.Import(payload)
	if err != nil {
		switch {
		case errors.Is(err, notestore.ErrBinaryPayload),
			errors.Is(err, notestore.ErrMalformedPayload):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, notestore.ErrNoValidNotes):
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		default:
			slog.Error("import failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	h.publish("imported", "")
	writeJSON(w, http.StatusOK, ImportResponse{Imported: res.Imported, Skipped: res.Skipped})
}
