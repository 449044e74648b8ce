package llm

import (
	"strings"
	"testing"
)

func TestConsumeSSEDeliversDeltas(t *testing.T) {
	stream := `data: {"choices":[{"delta":{"content":"Hello"}}]}

data: {"choices":[{"delta":{"content":" world"}}]}

data: {"choices":[{"delta":{}}]}

data: [DONE]
`
	var got strings.Builder
	if err := consumeSSE(strings.NewReader(stream), func(chunk string) {
		got.WriteString(chunk)
	}); err != nil {
		t.Fatalf("consumeSSE: %v", err)
	}
	if got.String() != "Hello world" {
		t.Fatalf("got %q", got.String())
	}
}

func TestConsumeSSEMalformedFrameErrors(t *testing.T) {
	stream := `data: {"choices":[{"delta":{"content":"ok"}}]}

data: {not json}

data: [DONE]
`
	err := consumeSSE(strings.NewReader(stream), func(string) {})
	if err == nil {
		t.Fatalf("malformed frame should abort the stream so the caller can fall back")
	}
}

func TestConsumeSSEIgnoresComments(t *testing.T) {
	stream := `: keepalive

data: {"choices":[{"delta":{"content":"x"}}]}

data: [DONE]
`
	var got strings.Builder
	if err := consumeSSE(strings.NewReader(stream), func(chunk string) {
		got.WriteString(chunk)
	}); err != nil {
		t.Fatalf("consumeSSE: %v", err)
	}
	if got.String() != "x" {
		t.Fatalf("got %q", got.String())
	}
}
