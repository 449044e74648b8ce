package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/quester-ai/quester/internal/llm"
)

const maxFollowUps = 3
const maxFollowUpLen = 75

// synthesize streams the final answer over the budgeted sources, emitting
// each produced chunk. Citations [n] refer 1:1 to the numbered source
// ordering in the prompt. When the stream fails mid-way the accumulated text
// is discarded and the call falls back to a non-streaming completion,
// emitted as a single chunk.
func (e *Engine) synthesize(ctx context.Context, state *RunState, em emitter) (string, error) {
	var b strings.Builder
	turns := state.Turns
	if len(turns) > 2 {
		turns = turns[len(turns)-2:]
	}
	for _, t := range turns {
		resp := truncate(t.Response, e.cfg.ContextPreviewChars)
		fmt.Fprintf(&b, "Previous question: %s\nPrevious answer: %s\n\n", t.Query, resp)
	}

	if len(state.Processed) > 0 {
		b.WriteString("Sources:\n")
		for i, src := range state.Processed {
			body := src.Summary
			if body == "" {
				body = src.Content
			}
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, src.Title, body)
		}
	} else {
		b.WriteString("No sources could be gathered; answer from general knowledge and say so.\n\n")
	}

	fmt.Fprintf(&b, `Write a 300-800 word answer to the question, weaving in numbered citations like [1] that refer to the sources above by position. Do not invent citations.

Question: %s`, state.Query)

	messages := llm.UserMessage(b.String())
	tier := e.gateway.Quality
	tierName := "quality"
	if e.cfg.SpeedMode {
		tier = e.gateway.Fast
		tierName = "fast"
	}

	var answer strings.Builder
	streamErr := tier.Stream(ctx, messages, func(chunk string) {
		answer.WriteString(chunk)
		em.chunk(chunk)
	})
	e.telemetry.RecordLLMCall(tierName, streamErr == nil)
	if streamErr == nil {
		return answer.String(), nil
	}

	e.logger.Printf("stream failed, falling back to completion: %v", streamErr)
	out, err := tier.Complete(ctx, messages)
	e.telemetry.RecordLLMCall(tierName, err == nil)
	if err != nil {
		return "", fmt.Errorf("synthesis: %w", err)
	}
	em.chunk(out)
	return out, nil
}

// followUps asks the fast tier for up to 3 short follow-up questions. Any
// failure or malformed output degrades to an empty list; follow-up
// generation never fails a run.
func (e *Engine) followUps(ctx context.Context, state *RunState) []string {
	prompt := fmt.Sprintf(`Based on the question %q and the answer below, suggest exactly 3 follow-up questions the user might ask next. Each under %d characters, one per line, no numbering or bullets.

Answer:
%s`, state.Query, maxFollowUpLen, state.Answer)

	out, err := e.gateway.Fast.Complete(ctx, llm.UserMessage(prompt))
	e.telemetry.RecordLLMCall("fast", err == nil)
	if err != nil {
		e.logger.Printf("follow-up generation failed: %v", err)
		return nil
	}

	var followUps []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if line == "" || len(line) > maxFollowUpLen {
			continue
		}
		followUps = append(followUps, line)
		if len(followUps) >= maxFollowUps {
			break
		}
	}
	return followUps
}
