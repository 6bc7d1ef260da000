package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeEndpoint(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGateway(srv.URL, "test-model", StaticProvider("secret"))
}

func TestCompleteSuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any

	g := fakeEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hello "},{"text":"world"}]}}]}`))
	})

	got, err := g.Complete(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("text = %q", got)
	}
	if gotPath != "/v1beta/models/test-model:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("key = %q, credential must travel as query parameter", gotKey)
	}

	// Request body must be {contents:[{parts:[{text:prompt}]}]}.
	contents, ok := gotBody["contents"].([]any)
	if !ok || len(contents) != 1 {
		t.Fatalf("contents = %#v", gotBody["contents"])
	}
	parts := contents[0].(map[string]any)["parts"].([]any)
	if text := parts[0].(map[string]any)["text"]; text != "say hello" {
		t.Errorf("prompt text = %v", text)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	g := fakeEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"key not valid"}}`))
	})

	_, err := g.Complete(context.Background(), "x")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want RequestError", err)
	}
	if reqErr.Status != http.StatusForbidden || !strings.Contains(reqErr.Message, "key not valid") {
		t.Errorf("reqErr = %+v", reqErr)
	}
}

func TestCompleteNon2xxWithoutErrorBody(t *testing.T) {
	g := fakeEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := g.Complete(context.Background(), "x")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want RequestError", err)
	}
	if reqErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d", reqErr.Status)
	}
}

func TestCompleteInvalidResponse(t *testing.T) {
	g := fakeEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	})

	if _, err := g.Complete(context.Background(), "x"); err == nil {
		t.Error("expected error for non-JSON response")
	}
}

func TestCompleteNoCandidates(t *testing.T) {
	g := fakeEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	if _, err := g.Complete(context.Background(), "x"); err == nil {
		t.Error("expected error for empty candidates")
	}
}

func TestCompleteMissingCredential(t *testing.T) {
	g := NewGateway("http://unused.invalid", "m", Chain{})
	_, err := g.Complete(context.Background(), "x")
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
}
