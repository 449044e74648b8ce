package web_search

import (
	"context"

	"github.com/quester-ai/quester/config"
)

const serperEndpoint = "https://google.serper.dev/search"

// SerperClient searches the web through serper.dev.
type SerperClient struct {
	cfg      config.SearchConfig
	http     *HTTPClient
	endpoint string
}

func NewSerperClient(cfg config.SearchConfig) *SerperClient {
	return &SerperClient{cfg: cfg, http: NewHTTPClient(cfg.Timeout, 2, 0)}
}

func (s *SerperClient) Name() string { return "serper" }

func (s *SerperClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	var resp struct {
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.cfg.SerperAPIKey}
	body := map[string]any{"q": query, "num": max1(limit, 10)}
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = serperEndpoint
	}
	if err := s.http.DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, err
	}
	out := []Result{}
	for _, r := range resp.Organic {
		if r.Link == "" {
			continue
		}
		out = append(out, Result{URL: r.Link, Title: r.Title, Content: r.Snippet})
		if len(out) >= max1(limit, 10) {
			break
		}
	}
	return out, nil
}

func max1(a, def int) int {
	if a > 0 {
		return a
	}
	return def
}
