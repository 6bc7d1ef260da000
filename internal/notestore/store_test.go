package notestore

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dverkh/inkwell/internal/apperr"
	"github.com/dverkh/inkwell/internal/models"
	"github.com/dverkh/inkwell/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(storage.NewMemory(), slog.Default())
}

func TestCreateFillsDefaults(t *testing.T) {
	s := testStore(t)
	n, err := s.Create(models.Note{Title: "Hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() || n.Attachments == nil {
		t.Errorf("defaults not filled: %+v", n)
	}
	got, err := s.Get(n.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Hello" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestAllSortsNewestFirst(t *testing.T) {
	s := testStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.Create(models.Note{
			Title:     fmt.Sprintf("note-%d", i),
			CreatedAt: base.AddDate(0, 0, i),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	all := s.All()
	if len(all) != 3 {
		t.Fatalf("len = %d", len(all))
	}
	if all[0].Title != "note-2" || all[2].Title != "note-0" {
		t.Errorf("order = [%s %s %s], want newest first", all[0].Title, all[1].Title, all[2].Title)
	}
}

func TestUpdatePreservesIdentity(t *testing.T) {
	s := testStore(t)
	n, _ := s.Create(models.Note{Title: "a", Content: "b"})

	title := "updated"
	got, err := s.Update(n.ID, models.Patch{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.ID != n.ID {
		t.Error("ID changed")
	}
	if !got.CreatedAt.Equal(n.CreatedAt) {
		t.Error("CreatedAt changed")
	}
	if got.UpdatedAt.Before(n.UpdatedAt) {
		t.Error("UpdatedAt moved backwards")
	}
	if got.Title != "updated" || got.Content != "b" {
		t.Errorf("merge wrong: %+v", got)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := testStore(t)
	title := "x"
	_, err := s.Update("missing", models.Patch{Title: &title})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteThenGet(t *testing.T) {
	s := testStore(t)
	n, _ := s.Create(models.Note{Title: "bye"})

	removed, err := s.Delete(n.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !removed {
		t.Error("removed = false")
	}
	if _, err := s.Get(n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}

	removed, err = s.Delete(n.ID)
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if removed {
		t.Error("second delete should report false")
	}
}

func TestSearchCaseInsensitiveSubstring(t *testing.T) {
	s := testStore(t)
	_, _ = s.Create(models.Note{Title: "Foo fighters", Content: "band"})
	_, _ = s.Create(models.Note{Title: "groceries", Content: "tofu and FOOd"})
	_, _ = s.Create(models.Note{Title: "unrelated", Content: "nothing here"})

	got := s.Search("foo")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, n := range got {
		if n.Title == "unrelated" {
			t.Error("non-matching note returned")
		}
	}
}

func TestAttachmentLifecycle(t *testing.T) {
	s := testStore(t)
	n, _ := s.Create(models.Note{Title: "with image"})
	prevUpdated := n.UpdatedAt

	att := models.NewAttachment("pic.png", "image/png", "data:image/png;base64,iVBOR", 5)
	got, err := s.AddAttachment(n.ID, att)
	if err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].ID != att.ID {
		t.Fatalf("attachments = %+v", got.Attachments)
	}
	if got.UpdatedAt.Before(prevUpdated) {
		t.Error("UpdatedAt moved backwards")
	}

	got, err = s.RemoveAttachment(n.ID, att.ID)
	if err != nil {
		t.Fatalf("RemoveAttachment: %v", err)
	}
	if len(got.Attachments) != 0 {
		t.Errorf("attachments = %+v, want empty", got.Attachments)
	}

	if _, err := s.RemoveAttachment(n.ID, att.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("removing missing attachment: err = %v", err)
	}
}

func TestAddAttachmentRequiresDataURL(t *testing.T) {
	s := testStore(t)
	n, _ := s.Create(models.Note{Title: "x"})
	if _, err := s.AddAttachment(n.ID, models.Attachment{ID: "a1"}); err == nil {
		t.Error("expected error for attachment without dataUrl")
	}
}

func TestCorruptSlotDegradesToEmpty(t *testing.T) {
	backend := storage.NewMemory()
	_ = backend.Save([]byte("{{{not json"))

	s := New(backend, slog.Default())
	if got := s.All(); len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}

	// The store must stay usable after degrading.
	if _, err := s.Create(models.Note{Title: "fresh"}); err != nil {
		t.Fatalf("Create after corrupt load: %v", err)
	}
}

func TestPersistenceAcrossInstances(t *testing.T) {
	backend := storage.NewMemory()
	s1 := New(backend, slog.Default())
	n, _ := s1.Create(models.Note{Title: "durable", Content: "body"})

	s2 := New(backend, slog.Default())
	got, err := s2.Get(n.ID)
	if err != nil {
		t.Fatalf("Get from second instance: %v", err)
	}
	if got.Title != "durable" || got.Content != "body" {
		t.Errorf("note = %+v", got)
	}
}

func TestReloadPicksUpExternalWrite(t *testing.T) {
	backend := storage.NewMemory()
	s := New(backend, slog.Default())
	_, _ = s.Create(models.Note{Title: "mine"})

	// Another writer rewrites the shared slot wholesale.
	other := New(backend, slog.Default())
	_, _ = other.Create(models.Note{Title: "theirs"})

	s.Reload()
	if s.Len() != 2 {
		t.Errorf("Len = %d after reload, want 2", s.Len())
	}
}

type failingBackend struct {
	storage.Backend
	fail bool
}

func (f *failingBackend) Save(data []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Backend.Save(data)
}

func TestFailedPersistRollsBack(t *testing.T) {
	fb := &failingBackend{Backend: storage.NewMemory()}
	s := New(fb, slog.Default())
	n, _ := s.Create(models.Note{Title: "keep"})

	fb.fail = true
	if _, err := s.Create(models.Note{Title: "doomed"}); err == nil {
		t.Fatal("expected persist error")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1 after rollback", s.Len())
	}
	if _, err := s.Get(n.ID); err != nil {
		t.Errorf("existing note lost: %v", err)
	}
}
