// Package llm provides the two-tier language model gateway used by the
// research engine: a fast/cheap tier for understanding, planning and
// summarization, and a quality tier for final synthesis.
package llm

import (
	"context"
	"fmt"

	"github.com/quester-ai/quester/config"
)

// Message is a single role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is one gateway tier. Stream must deliver the full response through
// onChunk before returning nil; callers fall back to Complete when Stream
// returns an error.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message, onChunk func(string)) error
}

// Gateway bundles the two required tiers.
type Gateway struct {
	Fast    Client
	Quality Client
}

// NewGateway builds a gateway from configuration.
func NewGateway(cfg config.LLMConfig) (*Gateway, error) {
	switch cfg.Provider.Type {
	case "", "openai":
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Provider.Type)
	}

	fastModel, ok := cfg.Provider.Models[cfg.Routing.Fast]
	if !ok {
		return nil, fmt.Errorf("fast model %q not configured", cfg.Routing.Fast)
	}
	qualityModel, ok := cfg.Provider.Models[cfg.Routing.Quality]
	if !ok {
		return nil, fmt.Errorf("quality model %q not configured", cfg.Routing.Quality)
	}

	return &Gateway{
		Fast:    NewOpenAIClient(cfg.Provider, fastModel),
		Quality: NewOpenAIClient(cfg.Provider, qualityModel),
	}, nil
}

// UserMessage is a convenience constructor for a single-message prompt.
func UserMessage(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}
