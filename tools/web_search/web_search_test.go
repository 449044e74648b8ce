package web_search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type stubSearcher struct {
	name    string
	results []Result
	err     error
}

func (s stubSearcher) Name() string { return s.name }
func (s stubSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	return s.results, s.err
}

func TestFallbackSearcherTriesNextProviderOnError(t *testing.T) {
	f := &FallbackSearcher{providers: []Searcher{
		stubSearcher{name: "first", err: errors.New("quota exceeded")},
		stubSearcher{name: "second", results: []Result{{URL: "https://a", Title: "A"}}},
	}}
	results, err := f.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("fallback should succeed via second provider: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://a" {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestFallbackSearcherEmptyResultIsFinal(t *testing.T) {
	f := &FallbackSearcher{providers: []Searcher{
		stubSearcher{name: "first", results: []Result{}},
		stubSearcher{name: "second", results: []Result{{URL: "https://never"}}},
	}}
	results, err := f.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("a working provider's empty result is final, got %v", results)
	}
}

func TestFallbackSearcherAllFail(t *testing.T) {
	f := &FallbackSearcher{providers: []Searcher{
		stubSearcher{name: "first", err: errors.New("down")},
		stubSearcher{name: "second", err: errors.New("also down")},
	}}
	if _, err := f.Search(context.Background(), "query", 5); err == nil {
		t.Fatalf("expected error when every provider fails")
	}
}

func TestHTTPClientRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second, 2, time.Millisecond)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.DoJSON(context.Background(), "GET", srv.URL, nil, nil, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if !out.OK {
		t.Fatalf("response not decoded")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestHTTPClientExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second, 1, time.Millisecond)
	err := client.DoJSON(context.Background(), "GET", srv.URL, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected error after retries exhausted")
	}
}

func TestSerperParsesOrganicResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "test-key" {
			t.Errorf("missing API key header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"organic": [
			{"title": "About Anthropic", "link": "https://example.com/a", "snippet": "Founded in 2021"},
			{"title": "No link", "link": "", "snippet": "dropped"}
		]}`))
	}))
	defer srv.Close()

	s := &SerperClient{http: NewHTTPClient(time.Second, 0, time.Millisecond), endpoint: srv.URL}
	s.cfg.SerperAPIKey = "test-key"

	results, err := s.Search(context.Background(), "anthropic", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("link-less hits should be dropped, got %d results", len(results))
	}
	if results[0].URL != "https://example.com/a" || results[0].Content != "Founded in 2021" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}
