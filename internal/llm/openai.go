package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/quester-ai/quester/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements Client against the OpenAI chat completions API.
type OpenAIClient struct {
	cfg    config.LLMProviderConfig
	model  config.LLMModel
	client *http.Client
}

// NewOpenAIClient creates a client bound to one configured model.
func NewOpenAIClient(cfg config.LLMProviderConfig, model config.LLMModel) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &OpenAIClient{cfg: cfg, model: model, client: &http.Client{Timeout: timeout}}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

func (c *OpenAIClient) apiKey() string {
	if c.cfg.APIKey != "" {
		return c.cfg.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (c *OpenAIClient) apiModel() string {
	if c.model.APIName != "" {
		return c.model.APIName
	}
	return c.model.Name
}

func (c *OpenAIClient) newRequest(ctx context.Context, stream bool, messages []Message) (*http.Request, error) {
	key := c.apiKey()
	if key == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.apiModel(),
		Messages:    messages,
		Temperature: c.model.Temperature,
		MaxTokens:   c.model.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	return req, nil
}

// Complete performs a non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req, err := c.newRequest(ctx, false, messages)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("OpenAI status %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Stream performs a streaming chat completion, delivering each delta through
// onChunk. The server-sent event stream is consumed fully before returning.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, onChunk func(string)) error {
	req, err := c.newRequest(ctx, true, messages)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("OpenAI status %d: %s", resp.StatusCode, string(b))
	}

	return consumeSSE(resp.Body, onChunk)
}

// consumeSSE reads "data: {json}" lines until [DONE] and forwards each
// content delta. A malformed frame aborts the stream so the caller can fall
// back to Complete.
func consumeSSE(r io.Reader, onChunk func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}
		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return fmt.Errorf("stream frame: %w", err)
		}
		for _, ch := range frame.Choices {
			if ch.Delta.Content != "" {
				onChunk(ch.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}
