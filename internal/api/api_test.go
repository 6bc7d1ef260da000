package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dverkh/inkwell/internal/ai"
	"github.com/dverkh/inkwell/internal/models"
	"github.com/dverkh/inkwell/internal/notestore"
	"github.com/dverkh/inkwell/internal/storage"
)

// fakeCompleter is a scriptable gateway. When blockFirst is non-nil, the
// first call signals started and then waits, so tests can hold one
// feature busy while probing others.
type fakeCompleter struct {
	text       string
	err        error
	blockFirst chan struct{}
	started    chan struct{}
	calls      atomic.Int32
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if f.calls.Add(1) == 1 && f.blockFirst != nil {
		if f.started != nil {
			close(f.started)
		}
		select {
		case <-f.blockFirst:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func testEnv(t *testing.T, gw Completer) (*notestore.Store, http.Handler) {
	t.Helper()
	store := notestore.New(storage.NewMemory(), slog.Default())
	if gw == nil {
		gw = &fakeCompleter{text: "ok"}
	}
	router := NewRouter(store, gw, false, "", nil, nil)
	return store, router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetNote(t *testing.T) {
	_, router := testEnv(t, nil)

	w := do(t, router, http.MethodPost, "/notes", map[string]string{"title": "Hello", "content": "World"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Errorf("created note missing defaults: %+v", created)
	}

	w = do(t, router, http.MethodGet, "/notes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Title != "Hello" || got.Content != "World" {
		t.Errorf("note = %+v", got)
	}
}

func TestCreateNoteRejectsEmpty(t *testing.T) {
	_, router := testEnv(t, nil)
	w := do(t, router, http.MethodPost, "/notes", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPatchNote(t *testing.T) {
	store, router := testEnv(t, nil)
	n, _ := store.Create(models.Note{Title: "a", Content: "b"})

	w := do(t, router, http.MethodPatch, "/notes/"+n.ID, map[string]string{"title": "renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var got models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Title != "renamed" || got.Content != "b" {
		t.Errorf("note = %+v", got)
	}
	if got.ID != n.ID || !got.CreatedAt.Equal(n.CreatedAt) {
		t.Error("identity fields changed")
	}
}

func TestPatchMissingNote(t *testing.T) {
	_, router := testEnv(t, nil)
	w := do(t, router, http.MethodPatch, "/notes/nope", map[string]string{"title": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	store, router := testEnv(t, nil)
	n, _ := store.Create(models.Note{Title: "bye"})

	w := do(t, router, http.MethodDelete, "/notes/"+n.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/notes/"+n.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestAttachmentRoutes(t *testing.T) {
	store, router := testEnv(t, nil)
	n, _ := store.Create(models.Note{Title: "pics"})

	w := do(t, router, http.MethodPost, "/notes/"+n.ID+"/attachments", map[string]any{
		"name": "cat.png", "type": "image/png", "size": 4, "dataUrl": "data:image/png;base64,AAAA",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("attach status = %d, body = %s", w.Code, w.Body.String())
	}
	var got models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %+v", got.Attachments)
	}

	w = do(t, router, http.MethodDelete, "/notes/"+n.ID+"/attachments/"+got.Attachments[0].ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detach status = %d", w.Code)
	}
}

func TestSearchRoute(t *testing.T) {
	store, router := testEnv(t, nil)
	_, _ = store.Create(models.Note{Title: "Foo plans"})
	_, _ = store.Create(models.Note{Title: "other"})

	w := do(t, router, http.MethodGet, "/search?q=foo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp NoteListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Notes[0].Title != "Foo plans" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestExportImportRoutes(t *testing.T) {
	store, router := testEnv(t, nil)
	_, _ = store.Create(models.Note{Title: "export me"})

	w := do(t, router, http.MethodGet, "/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// A second environment imports the exported payload.
	_, router2 := testEnv(t, nil)
	w2 := do(t, router2, http.MethodPost, "/import", w.Body.Bytes())
	if w2.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", w2.Code, w2.Body.String())
	}
	var resp ImportResponse
	_ = json.Unmarshal(w2.Body.Bytes(), &resp)
	if resp.Imported != 1 || resp.Skipped != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestImportErrorMapping(t *testing.T) {
	_, router := testEnv(t, nil)

	w := do(t, router, http.MethodPost, "/import", []byte{0x89, 'P', 'N', 'G'})
	if w.Code != http.StatusBadRequest {
		t.Errorf("binary payload status = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/import", []byte("{{{"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed payload status = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/import", []byte(`[{"foo":"bar"}]`))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("no valid notes status = %d, want 422", w.Code)
	}
}

func TestSummarizeRoute(t *testing.T) {
	store := notestore.New(storage.NewMemory(), slog.Default())
	n, _ := store.Create(models.Note{Title: "t", Content: "c"})
	router := NewRouter(store, &fakeCompleter{text: "a summary"}, false, "", nil, nil)

	w := do(t, router, http.MethodPost, "/notes/"+n.ID+"/ai/summarize", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp AIResultResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Text != "a summary" || resp.Feature != "summarize" {
		t.Errorf("resp = %+v", resp)
	}

	// Summaries are transient: the note body is untouched.
	got, _ := store.Get(n.ID)
	if got.Content != "c" {
		t.Errorf("content = %q, summarize must not persist", got.Content)
	}
}

func TestContinuePersistsIntoNote(t *testing.T) {
	store := notestore.New(storage.NewMemory(), slog.Default())
	n, _ := store.Create(models.Note{Title: "story", Content: "once upon a time"})
	router := NewRouter(store, &fakeCompleter{text: "there was a gopher"}, false, "", nil, nil)

	w := do(t, router, http.MethodPost, "/notes/"+n.ID+"/ai/continue", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	got, _ := store.Get(n.ID)
	if got.Content != "once upon a time\n\nthere was a gopher" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestAIErrorMapping(t *testing.T) {
	store := notestore.New(storage.NewMemory(), slog.Default())
	n, _ := store.Create(models.Note{Title: "t"})

	router := NewRouter(store, &fakeCompleter{err: ai.ErrNoCredential}, false, "", nil, nil)
	w := do(t, router, http.MethodPost, "/notes/"+n.ID+"/ai/summarize", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("missing credential status = %d, want 503", w.Code)
	}

	router = NewRouter(store, &fakeCompleter{err: &ai.RequestError{Status: 403, Message: "bad key"}}, false, "", nil, nil)
	w = do(t, router, http.MethodPost, "/notes/"+n.ID+"/ai/summarize", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bad key") {
		t.Errorf("upstream message not surfaced: %s", w.Body.String())
	}
}

func TestDuplicateFeatureRejectedWhileBusy(t *testing.T) {
	store := notestore.New(storage.NewMemory(), slog.Default())
	n, _ := store.Create(models.Note{Title: "t", Content: "c"})

	gw := &fakeCompleter{text: "slow", blockFirst: make(chan struct{}), started: make(chan struct{})}
	router := NewRouter(store, gw, false, "", nil, nil)

	firstDone := make(chan int, 1)
	go func() {
		w := do(t, router, http.MethodPost, "/notes/"+n.ID+"/ai/summarize", nil)
		firstDone <- w.Code
	}()
	<-gw.started // the first call now holds the summarize busy flag

	// Duplicate invocation of the same feature is rejected.
	w := do(t, router, http.MethodPost, "/notes/"+n.ID+"/ai/summarize", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate summarize status = %d, want 409", w.Code)
	}

	// A different feature is not blocked by the summarize flag.
	w = do(t, router, http.MethodPost, "/notes/"+n.ID+"/ai/related", nil)
	if w.Code != http.StatusOK {
		t.Errorf("cross-feature status = %d; busy flags must be per feature", w.Code)
	}

	close(gw.blockFirst)
	if code := <-firstDone; code != http.StatusOK {
		t.Errorf("first call status = %d", code)
	}
}

func TestSmartSearchPrefersLocal(t *testing.T) {
	store := notestore.New(storage.NewMemory(), slog.Default())
	_, _ = store.Create(models.Note{Title: "meeting notes", Content: "agenda"})
	gw := &fakeCompleter{err: errors.New("gateway must not be called")}
	router := NewRouter(store, gw, false, "", nil, nil)

	w := do(t, router, http.MethodGet, "/search/smart?q=meeting", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SmartSearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Source != "local" || len(resp.Notes) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSmartSearchFallsBackToAI(t *testing.T) {
	store := notestore.New(storage.NewMemory(), slog.Default())
	_, _ = store.Create(models.Note{Title: "meeting notes", Content: "agenda"})
	router := NewRouter(store, &fakeCompleter{text: "the meeting note matches"}, false, "", nil, nil)

	w := do(t, router, http.MethodGet, "/search/smart?q=zebra", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SmartSearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Source != "ai" || resp.Answer == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAuthToken(t *testing.T) {
	store := notestore.New(storage.NewMemory(), slog.Default())
	router := NewRouter(store, &fakeCompleter{}, true, "sekrit", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d", w.Code)
	}
}

func TestMutationEventsPublished(t *testing.T) {
	store := notestore.New(storage.NewMemory(), slog.Default())
	var mu sync.Mutex
	var kinds []string
	events := func(kind, id string) {
		mu.Lock()
		kinds = append(kinds, kind)
		mu.Unlock()
	}
	router := NewRouter(store, &fakeCompleter{}, false, "", events, nil)

	w := do(t, router, http.MethodPost, "/notes", map[string]string{"title": "x"})
	var n models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &n)
	do(t, router, http.MethodPatch, "/notes/"+n.ID, map[string]string{"content": "y"})
	do(t, router, http.MethodDelete, "/notes/"+n.ID, nil)
	do(t, router, http.MethodPost, "/import", []byte(`[{"title":"z"}]`))

	mu.Lock()
	defer mu.Unlock()
	want := []string{"created", "updated", "deleted", "imported"}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}
