package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quester-ai/quester/internal/llm"
)

// summaryTargetLength derives the per-source summary budget from how many
// sources compete for context.
func summaryTargetLength(sourceCount int) int {
	switch {
	case sourceCount <= 5:
		return 4000
	case sourceCount <= 10:
		return 3000
	case sourceCount <= 20:
		return 2000
	case sourceCount <= 30:
		return 1500
	default:
		return 1000
	}
}

// summarize reduces one source's content to a query-relevant statement via
// the fast tier. The prompt constrains length and instructs the model to say
// "no direct relevance" for off-topic content, which the relevance scorer
// keys on.
func (e *Engine) summarize(ctx context.Context, query string, src Source, targetLen int) (string, error) {
	content := truncate(src.Content, e.cfg.SourceCeilingChars)
	prompt := fmt.Sprintf(`Summarize the following web page content as it relates to the question: %q

Keep the summary under %d characters. Focus only on facts relevant to the question. If the content does not address the question at all, reply with exactly "no direct relevance".

Title: %s
Content:
%s`, query, targetLen, src.Title, content)

	out, err := e.gateway.Fast.Complete(ctx, llm.UserMessage(prompt))
	e.telemetry.RecordLLMCall("fast", err == nil)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", src.URL, err)
	}
	return truncate(strings.TrimSpace(out), targetLen), nil
}

const keywordWindowRadius = 500

// keywordWindows is the deterministic fallback when per-source summarization
// fails: extract ±500-char windows around every query keyword occurrence,
// merge overlaps, and snap window edges to sentence or line boundaries. It
// never calls a model and never fails.
func keywordWindows(query, content string) string {
	if content == "" {
		return ""
	}
	lower := strings.ToLower(content)

	type span struct{ start, end int }
	var spans []span
	seen := make(map[string]bool)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len(term) < 3 || seen[term] {
			continue
		}
		seen[term] = true
		for idx := 0; ; {
			pos := strings.Index(lower[idx:], term)
			if pos < 0 {
				break
			}
			at := idx + pos
			start := at - keywordWindowRadius
			if start < 0 {
				start = 0
			}
			end := at + len(term) + keywordWindowRadius
			if end > len(content) {
				end = len(content)
			}
			spans = append(spans, span{start, end})
			idx = at + len(term)
		}
	}
	if len(spans) == 0 {
		return ""
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
		} else {
			merged = append(merged, s)
		}
	}

	var parts []string
	for _, s := range merged {
		parts = append(parts, strings.TrimSpace(content[snapStart(content, s.start):snapEnd(content, s.end)]))
	}
	return strings.Join(parts, "\n...\n")
}

// snapStart moves a window start forward to just past the previous sentence
// or line break, so extracts do not begin mid-sentence.
func snapStart(content string, at int) int {
	if at == 0 {
		return 0
	}
	for i := at; i > 0 && at-i < keywordWindowRadius; i-- {
		switch content[i-1] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return at
}

// snapEnd moves a window end forward to the next sentence or line break.
func snapEnd(content string, at int) int {
	if at >= len(content) {
		return len(content)
	}
	for i := at; i < len(content) && i-at < keywordWindowRadius; i++ {
		switch content[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return at
}
