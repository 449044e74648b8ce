package web_fetch

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quester-ai/quester/config"
	"github.com/quester-ai/quester/tools/web_fetch/models"
)

// CachedFetcher wraps a fetcher with a redis page cache keyed by URL. Only
// successful fetches are cached. Redis being down is transparent: every
// cache error degrades to a direct fetch.
type CachedFetcher struct {
	inner  WebFetcher
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewCachedFetcher(inner WebFetcher, cfg config.CacheConfig) *CachedFetcher {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedFetcher{
		inner: inner,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    ttl,
		logger: log.New(os.Stderr, "[FETCH-CACHE] ", log.LstdFlags),
	}
}

func cacheKey(url string) string { return "page:" + url }

func (c *CachedFetcher) Exec(ctx context.Context, url string) (models.Result, error) {
	if raw, err := c.client.Get(ctx, cacheKey(url)).Result(); err == nil {
		var cached models.Result
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return cached, nil
		}
	} else if err != redis.Nil {
		c.logger.Printf("redis get failed for %s: %v", url, err)
	}

	result, err := c.inner.Exec(ctx, url)
	if err != nil {
		return result, err
	}

	if result.Success {
		if b, err := json.Marshal(result); err == nil {
			if err := c.client.Set(ctx, cacheKey(url), b, c.ttl).Err(); err != nil {
				c.logger.Printf("redis set failed for %s: %v", url, err)
			}
		}
	}
	return result, nil
}
