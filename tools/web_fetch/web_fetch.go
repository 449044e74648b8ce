// Package web_fetch provides the page half of the content fetcher: given a
// URL, return readable article text. All failures are soft; callers inspect
// Result.Success and Result.ErrKind.
package web_fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/quester-ai/quester/config"
	cdp "github.com/quester-ai/quester/tools/web_fetch/chromedp"
	"github.com/quester-ai/quester/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 8 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

// NewWebFetcher builds the configured fetcher chain: http (plain GET +
// readability) or chromedp (headless browser), optionally wrapped with the
// redis page cache.
func NewWebFetcher(cfg config.FetchConfig) (WebFetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	var f WebFetcher
	switch cfg.Fetcher {
	case "", "http":
		f = &HTTPFetch{Timeout: timeout, MaxChars: maxChars}
	case "chromedp":
		f = cdp.Fetch{Timeout: timeout, MaxChars: maxChars}
	default:
		return nil, errors.New("unsupported fetcher type: " + cfg.Fetcher)
	}

	if cfg.Cache.Enabled {
		f = NewCachedFetcher(f, cfg.Cache)
	}
	return f, nil
}

// HTTPFetch fetches a page with a plain GET and extracts the article text
// with readability. Sufficient for most documentation and article pages.
type HTTPFetch struct {
	Timeout  time.Duration
	MaxChars int
	Client   *http.Client
}

func (f *HTTPFetch) Exec(ctx context.Context, pageURL string) (models.Result, error) {
	if strings.TrimSpace(pageURL) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return models.Result{URL: pageURL, ErrKind: models.ErrKindOther}, nil
	}
	req.Header.Set("User-Agent", "QuesterBot/1.0 (+https://github.com/quester-ai/quester)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		kind := models.ErrKindOther
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			kind = models.ErrKindTimeout
		}
		return models.Result{URL: pageURL, ErrKind: kind, ElapsedMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Result{URL: pageURL, ErrKind: models.ErrKindOther, Status: resp.StatusCode, ElapsedMS: int(time.Since(t0) / time.Millisecond)}, nil
	}

	article, err := readability.FromReader(resp.Body, mustParseURL(pageURL))
	if err != nil {
		return models.Result{URL: pageURL, ErrKind: models.ErrKindOther, Status: resp.StatusCode, ElapsedMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := strings.TrimSpace(article.TextContent)
	if f.MaxChars > 0 && len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}

	return models.Result{
		URL:       pageURL,
		Title:     strings.TrimSpace(article.Title),
		Content:   text,
		Success:   text != "",
		Status:    resp.StatusCode,
		ElapsedMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
