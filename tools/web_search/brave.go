package web_search

import (
	"context"
	"fmt"
	"net/url"

	"github.com/quester-ai/quester/config"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveClient searches the web through the Brave Search API.
type BraveClient struct {
	cfg      config.SearchConfig
	http     *HTTPClient
	endpoint string
}

func NewBraveClient(cfg config.SearchConfig) *BraveClient {
	return &BraveClient{cfg: cfg, http: NewHTTPClient(cfg.Timeout, 2, 0)}
}

func (b *BraveClient) Name() string { return "brave" }

func (b *BraveClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	var resp struct {
		Web struct {
			Results []struct{ Title, URL, Description string } `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": b.cfg.BraveAPIKey}
	base := b.endpoint
	if base == "" {
		base = braveEndpoint
	}
	endpoint := fmt.Sprintf("%s?q=%s&count=%d", base, url.QueryEscape(query), max1(limit, 10))
	if err := b.http.DoJSON(ctx, "GET", endpoint, headers, nil, &resp); err != nil {
		return nil, err
	}
	out := []Result{}
	for _, r := range resp.Web.Results {
		if r.URL == "" {
			continue
		}
		out = append(out, Result{URL: r.URL, Title: r.Title, Content: r.Description})
		if len(out) >= max1(limit, 10) {
			break
		}
	}
	return out, nil
}
