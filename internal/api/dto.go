package api

import "github.com/dverkh/inkwell/internal/models"

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateNoteRequest is the request body for patching a note. Nil fields
// are left untouched.
type UpdateNoteRequest struct {
	Title       *string              `json:"title"`
	Content     *string              `json:"content"`
	Attachments *[]models.Attachment `json:"attachments"`
}

// AddAttachmentRequest is the request body for attaching an image.
type AddAttachmentRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	DataURL string `json:"dataUrl"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
	Total int           `json:"total"`
}

// ImportResponse reports import counts.
type ImportResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// AIResultResponse carries a transient AI feature result.
type AIResultResponse struct {
	Feature string `json:"feature"`
	NoteID  string `json:"noteId,omitempty"`
	Text    string `json:"text"`
}

// SmartSearchResponse carries local matches, or the gateway's answer when
// substring search found nothing.
type SmartSearchResponse struct {
	Source string        `json:"source"` // "local" or "ai"
	Notes  []models.Note `json:"notes"`
	Answer string        `json:"answer,omitempty"`
}
