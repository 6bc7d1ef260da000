package notestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dverkh/inkwell/internal/models"
)

// Import failure causes, surfaced to the user with a specific message each.
var (
	ErrBinaryPayload    = errors.New("payload looks like a binary file, not a notes export")
	ErrMalformedPayload = errors.New("payload is not valid JSON")
	ErrNoValidNotes     = errors.New("payload contains no valid notes")
)

// ImportResult reports how many entries were merged vs. dropped.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ExportVersion is the export envelope format version.
const ExportVersion = "1.0"

type exportEnvelope struct {
	Version    string        `json:"version"`
	ExportedAt time.Time     `json:"exportedAt"`
	TotalNotes int           `json:"totalNotes"`
	Notes      []models.Note `json:"notes"`
}

// Export serializes the full collection into the versioned export envelope.
func (s *Store) Export() ([]byte, error) {
	notes := s.All()
	env := exportEnvelope{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		TotalNotes: len(notes),
		Notes:      notes,
	}
	return json.MarshalIndent(env, "", "  ")
}

// Import validates a payload and additively merges the surviving notes
// into the collection. The store is left untouched on every failure.
//
// Accepted shapes: a bare array of note-like objects, an object wrapping a
// "notes" array, or a single note-like object. An entry survives when its
// title or content is string-typed; missing ids and timestamps are
// backfilled, and attachments without a string dataUrl are dropped.
func (s *Store) Import(payload []byte) (ImportResult, error) {
	if looksBinary(payload) {
		return ImportResult{}, ErrBinaryPayload
	}

	entries, err := normalizeEntries(payload)
	if err != nil {
		return ImportResult{}, err
	}

	var accepted []models.Note
	for _, raw := range entries {
		note, ok := coerceNote(raw)
		if !ok {
			continue
		}
		accepted = append(accepted, note)
	}
	if len(accepted) == 0 {
		return ImportResult{}, ErrNoValidNotes
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prevLen := len(s.notes)
	s.notes = append(s.notes, accepted...)
	if err := s.persistLocked(); err != nil {
		s.notes = s.notes[:prevLen]
		return ImportResult{}, err
	}
	return ImportResult{
		Imported: len(accepted),
		Skipped:  len(entries) - len(accepted),
	}, nil
}

// binarySignatures are telltale file-format markers that mean the user
// picked an image or document instead of a notes export.
var binarySignatures = [][]byte{
	{0x89, 'P', 'N', 'G'},       // PNG
	{0xFF, 0xD8, 0xFF},          // JPEG
	[]byte("GIF87a"),            // GIF
	[]byte("GIF89a"),            // GIF
	[]byte("%PDF"),              // PDF
	{'P', 'K', 0x03, 0x04},      // ZIP / OOXML
	{0x1F, 0x8B},                // GZIP
	[]byte("RIFF"),              // WEBP/AVI container
	{'B', 'M'},                  // BMP
	{0x00, 0x00, 0x01, 0x00},    // ICO
	{0x7F, 'E', 'L', 'F'},       // ELF
	{0xD0, 0xCF, 0x11, 0xE0},    // legacy MS Office
}

func looksBinary(payload []byte) bool {
	for _, sig := range binarySignatures {
		if bytes.HasPrefix(payload, sig) {
			return true
		}
	}
	// Non-printable leading bytes also mean a non-text file.
	head := payload
	if len(head) > 16 {
		head = head[:16]
	}
	for _, b := range head {
		if b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		if b < 0x20 || b == 0x7F {
			return true
		}
	}
	return false
}

// normalizeEntries reduces the three accepted payload shapes to a flat
// slice of raw entries.
func normalizeEntries(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, ErrMalformedPayload
	}
	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, ErrMalformedPayload
		}
		return arr, nil
	case '{':
		var wrapper struct {
			Notes []json.RawMessage `json:"notes"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, ErrMalformedPayload
		}
		if wrapper.Notes != nil {
			return wrapper.Notes, nil
		}
		// Single note-like object.
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	default:
		return nil, ErrMalformedPayload
	}
}

// coerceNote turns a raw entry into a stored note. An entry is note-like
// when at least one of title or content is string-typed; the other field
// defaults to a placeholder or empty.
func coerceNote(raw json.RawMessage) (models.Note, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.Note{}, false
	}

	title, titleOK := m["title"].(string)
	content, contentOK := m["content"].(string)
	if !titleOK && !contentOK {
		return models.Note{}, false
	}
	if !titleOK || title == "" {
		title = "Untitled note"
	}

	note := models.Note{
		Title:   title,
		Content: content,
	}
	if id, ok := m["id"].(string); ok && id != "" {
		note.ID = id
	}
	note.CreatedAt = parseTimeField(m["createdAt"])
	note.UpdatedAt = parseTimeField(m["updatedAt"])
	note.Attachments = coerceAttachments(m["attachments"])
	note.Normalize()
	return note, true
}

// coerceAttachments validates each attachment entry; anything lacking a
// string-typed dataUrl is dropped silently.
func coerceAttachments(v any) []models.Attachment {
	items, ok := v.([]any)
	if !ok {
		return []models.Attachment{}
	}
	out := make([]models.Attachment, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		dataURL, ok := m["dataUrl"].(string)
		if !ok {
			continue
		}
		att := models.Attachment{DataURL: dataURL}
		if id, ok := m["id"].(string); ok {
			att.ID = id
		}
		if name, ok := m["name"].(string); ok {
			att.Name = name
		}
		if typ, ok := m["type"].(string); ok {
			att.Type = typ
		}
		if size, ok := m["size"].(float64); ok {
			att.Size = int64(size)
		}
		att.CreatedAt = parseTimeField(m["createdAt"])
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		if att.CreatedAt.IsZero() {
			att.CreatedAt = time.Now().UTC()
		}
		out = append(out, att)
	}
	return out
}

func parseTimeField(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
