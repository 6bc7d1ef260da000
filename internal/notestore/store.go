// Package notestore owns the durable note collection.
//
// The collection is held in memory and persisted as a whole JSON document
// through a storage.Backend on every mutation. Corrupt or unreadable slot
// data is logged and treated as an empty collection, never propagated.
package notestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dverkh/inkwell/internal/apperr"
	"github.com/dverkh/inkwell/internal/checksum"
	"github.com/dverkh/inkwell/internal/models"
	"github.com/dverkh/inkwell/internal/storage"
)

// Store is the note collection service.
type Store struct {
	mu      sync.Mutex
	backend storage.Backend
	logger  *slog.Logger

	notes    []models.Note // insertion order; sorting happens on read
	savedSum string        // checksum of the last payload we persisted
}

// New creates a store over the given backend and loads the collection.
func New(backend storage.Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{backend: backend, logger: logger}
	s.mu.Lock()
	s.loadLocked()
	s.mu.Unlock()
	return s
}

// loadLocked reads the slot and decodes the collection. Any failure
// degrades to an empty collection.
func (s *Store) loadLocked() {
	s.notes = nil
	data, err := s.backend.Load()
	if err != nil {
		if err != storage.ErrSlotEmpty {
			s.logger.Warn("store: load failed, starting empty", slog.String("error", err.Error()))
		}
		return
	}
	var notes []models.Note
	if err := json.Unmarshal(data, &notes); err != nil {
		s.logger.Warn("store: corrupt slot data, starting empty", slog.String("error", err.Error()))
		return
	}
	for i := range notes {
		notes[i].Normalize()
	}
	s.notes = notes
	s.savedSum = checksum.Sum(data)
}

// persistLocked encodes the collection and saves the whole slot.
func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.notes)
	if err != nil {
		return fmt.Errorf("store: encode collection: %w", err)
	}
	if err := s.backend.Save(data); err != nil {
		return fmt.Errorf("store: persist: %w", err)
	}
	s.savedSum = checksum.Sum(data)
	return nil
}

// Reload discards the in-memory collection and re-reads the slot. Used
// when an external writer rewrites the shared store.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
}

// SavedChecksum returns the checksum of the last payload this store
// persisted or loaded. The watcher uses it to tell its own writes apart
// from external ones.
func (s *Store) SavedChecksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedSum
}

// All returns every note, newest CreatedAt first.
func (s *Store) All() []models.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedCopyLocked(s.notes)
}

// Get returns a single note or apperr.ErrNotFound.
func (s *Store) Get(id string) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return models.Note{}, apperr.ErrNotFound
	}
	return copyNote(s.notes[i]), nil
}

// Create fills in missing ID, timestamps, and attachments, appends the
// note, persists, and returns the stored note.
func (s *Store) Create(draft models.Note) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft.Normalize()
	s.notes = append(s.notes, draft)
	if err := s.persistLocked(); err != nil {
		s.notes = s.notes[:len(s.notes)-1]
		return models.Note{}, err
	}
	return copyNote(draft), nil
}

// Update merges patch fields into the note, refreshes UpdatedAt, and
// persists. Returns apperr.ErrNotFound if the id is absent.
func (s *Store) Update(id string, p models.Patch) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return models.Note{}, apperr.ErrNotFound
	}
	prev := s.notes[i]
	s.notes[i].Apply(p)
	if err := s.persistLocked(); err != nil {
		s.notes[i] = prev
		return models.Note{}, err
	}
	return copyNote(s.notes[i]), nil
}

// Delete removes the note and persists. The bool reports whether a note
// was actually removed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	removed := s.notes[i]
	s.notes = append(s.notes[:i], s.notes[i+1:]...)
	if err := s.persistLocked(); err != nil {
		s.notes = append(s.notes[:i], append([]models.Note{removed}, s.notes[i:]...)...)
		return false, err
	}
	return true, nil
}

// Search returns notes whose title or content contains the query,
// case-insensitively, in store order. An empty query matches everything.
func (s *Store) Search(query string) []models.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []models.Note
	for _, n := range sortedCopyLocked(s.notes) {
		if strings.Contains(strings.ToLower(n.Title), q) ||
			strings.Contains(strings.ToLower(n.Content), q) {
			out = append(out, n)
		}
	}
	return out
}

// AddAttachment appends an attachment to the note and persists.
func (s *Store) AddAttachment(noteID string, att models.Attachment) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(noteID)
	if i < 0 {
		return models.Note{}, apperr.ErrNotFound
	}
	if att.ID == "" || att.DataURL == "" {
		return models.Note{}, fmt.Errorf("store: attachment id and dataUrl are required")
	}
	prev := copyNote(s.notes[i])
	s.notes[i].Attachments = append(s.notes[i].Attachments, att)
	s.notes[i].Touch()
	if err := s.persistLocked(); err != nil {
		s.notes[i] = prev
		return models.Note{}, err
	}
	return copyNote(s.notes[i]), nil
}

// RemoveAttachment removes an attachment by id and persists. Returns
// apperr.ErrNotFound when the note or the attachment is absent.
func (s *Store) RemoveAttachment(noteID, attID string) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(noteID)
	if i < 0 {
		return models.Note{}, apperr.ErrNotFound
	}
	atts := s.notes[i].Attachments
	found := -1
	for j, a := range atts {
		if a.ID == attID {
			found = j
			break
		}
	}
	if found < 0 {
		return models.Note{}, apperr.ErrNotFound
	}
	prev := copyNote(s.notes[i])
	s.notes[i].Attachments = append(atts[:found:found], atts[found+1:]...)
	s.notes[i].Touch()
	if err := s.persistLocked(); err != nil {
		s.notes[i] = prev
		return models.Note{}, err
	}
	return copyNote(s.notes[i]), nil
}

// Len returns the number of stored notes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

func (s *Store) indexLocked(id string) int {
	for i, n := range s.notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func sortedCopyLocked(notes []models.Note) []models.Note {
	out := make([]models.Note, len(notes))
	for i, n := range notes {
		out[i] = copyNote(n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func copyNote(n models.Note) models.Note {
	atts := make([]models.Attachment, len(n.Attachments))
	copy(atts, n.Attachments)
	n.Attachments = atts
	return n
}
