// Package web_search provides the search half of the content fetcher:
// pluggable web search providers behind a single Searcher interface.
package web_search

import (
	"context"
	"fmt"

	"github.com/quester-ai/quester/config"
)

// Result is one search hit. Content carries the provider snippet; the page
// body is filled in later by the fetch half.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Searcher executes one query against a web search backend. Zero results is
// not an error: implementations return an empty slice.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	Name() string
}

// NewSearcher builds a searcher from configuration. When both Serper and
// Brave keys are present the Serper provider is primary and Brave is the
// fallback.
func NewSearcher(cfg config.SearchConfig) (Searcher, error) {
	var providers []Searcher
	if cfg.SerperAPIKey != "" {
		providers = append(providers, NewSerperClient(cfg))
	}
	if cfg.BraveAPIKey != "" {
		providers = append(providers, NewBraveClient(cfg))
	}
	switch len(providers) {
	case 0:
		return nil, fmt.Errorf("no search provider configured (set SERPER_API_KEY or BRAVE_SEARCH_KEY)")
	case 1:
		return providers[0], nil
	default:
		return &FallbackSearcher{providers: providers}, nil
	}
}

// FallbackSearcher tries each provider in order until one succeeds. An empty
// result set from a working provider is final, not a reason to fall through.
type FallbackSearcher struct {
	providers []Searcher
}

func (f *FallbackSearcher) Name() string { return "fallback" }

func (f *FallbackSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	var lastErr error
	for _, p := range f.providers {
		results, err := p.Search(ctx, query, limit)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			continue
		}
		return results, nil
	}
	return nil, lastErr
}
