// Package models defines the domain types for Inkwell.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Note is the primary user-authored record.
type Note struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is an inline image associated with a note, stored as an
// embedded data URL.
type Attachment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"` // MIME type
	Size      int64     `json:"size"`
	DataURL   string    `json:"dataUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Patch lists the mutable note fields. Nil fields are left untouched.
type Patch struct {
	Title       *string
	Content     *string
	Attachments *[]Attachment
}

// NewNote returns a note with a fresh ID and timestamps. Attachments are
// always non-nil so the encoded form carries an empty array, not null.
func NewNote(title, content string) Note {
	now := time.Now().UTC()
	return Note{
		ID:          uuid.NewString(),
		Title:       title,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
		Attachments: []Attachment{},
	}
}

// NewAttachment returns an attachment with a fresh ID and creation time.
func NewAttachment(name, mimeType, dataURL string, size int64) Attachment {
	return Attachment{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      mimeType,
		Size:      size,
		DataURL:   dataURL,
		CreatedAt: time.Now().UTC(),
	}
}

// Normalize backfills the fields a note must always carry: ID, timestamps,
// and a non-nil attachment slice. UpdatedAt never ends up before CreatedAt.
func (n *Note) Normalize() {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	if n.UpdatedAt.Before(n.CreatedAt) {
		n.UpdatedAt = n.CreatedAt
	}
	if n.Attachments == nil {
		n.Attachments = []Attachment{}
	}
}

// Apply merges a patch field-by-field and refreshes UpdatedAt. The new
// UpdatedAt never moves backwards even if the clock does.
func (n *Note) Apply(p Patch) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Attachments != nil {
		atts := *p.Attachments
		if atts == nil {
			atts = []Attachment{}
		}
		n.Attachments = atts
	}
	n.Touch()
}

// Touch refreshes UpdatedAt, clamped so it never decreases.
func (n *Note) Touch() {
	now := time.Now().UTC()
	if now.After(n.UpdatedAt) {
		n.UpdatedAt = now
	}
}
