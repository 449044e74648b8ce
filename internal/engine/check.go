package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quester-ai/quester/internal/llm"
)

type checkVerdict struct {
	Question   string   `json:"question"`
	Answered   bool     `json:"answered"`
	Confidence float64  `json:"confidence"`
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
}

// versionMatchConfidence is assigned when the deterministic version-token
// rule marks a sub-question answered that the model missed.
const versionMatchConfidence = 0.85

// checkAnswers runs one fast-tier call over all unanswered sub-questions and
// a capped set of source previews, then applies each verdict with monotonic
// confidence. A response that does not parse as a JSON array leaves every
// sub-query untouched: still unanswered, never fatal.
func (e *Engine) checkAnswers(ctx context.Context, state *RunState) {
	unanswered := state.unanswered(e.cfg.MinAnswerConfidence)
	if len(unanswered) == 0 {
		return
	}

	sources := state.Sources.All()
	if len(sources) > e.cfg.MaxSourcesToCheck {
		sources = sources[:e.cfg.MaxSourcesToCheck]
	}

	var b strings.Builder
	b.WriteString("Questions:\n")
	for i, sub := range unanswered {
		fmt.Fprintf(&b, "%d. %s\n", i+1, sub.Question)
	}
	b.WriteString("\nSources:\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "URL: %s\nTitle: %s\n", src.URL, src.Title)
		if src.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", src.Summary)
		}
		preview := truncate(src.Content, e.cfg.ContextPreviewChars)
		if preview != "" {
			fmt.Fprintf(&b, "Content: %s\n", preview)
		}
		b.WriteString("\n")
	}
	b.WriteString(`For each question decide whether the sources answer it. When comparing version-like identifiers, ignore whitespace and hyphens, and treat a numeric MMDD token as equivalent to the same month-name date (e.g. "0528" matches "May 28").
Respond with a JSON array only, one object per question in order:
[{"question": "...", "answered": true, "confidence": 0.0, "answer": "...", "sources": ["url"]}]`)

	out, err := e.gateway.Fast.Complete(ctx, llm.UserMessage(b.String()))
	e.telemetry.RecordLLMCall("fast", err == nil)
	if err != nil {
		e.logger.Printf("answer check failed: %v", err)
		e.augmentVersionMatches(unanswered, sources)
		return
	}

	var verdicts []checkVerdict
	if err := json.Unmarshal([]byte(extractFirstJSONArray(out)), &verdicts); err != nil {
		e.logger.Printf("answer check response did not parse, leaving sub-queries unchanged: %v", err)
		e.augmentVersionMatches(unanswered, sources)
		return
	}

	for i, v := range verdicts {
		if i >= len(unanswered) {
			break
		}
		if v.Answered {
			unanswered[i].Update(v.Confidence, v.Answer, v.Sources, e.cfg.MinAnswerConfidence)
		}
	}

	e.augmentVersionMatches(unanswered, sources)
}

// augmentVersionMatches applies the deterministic version-token equivalence
// rule on top of the model's verdicts: a sub-question whose version token
// appears in a source (verbatim or as a month-name date) alongside the rest
// of its terms is considered answered even when the model was unsure.
func (e *Engine) augmentVersionMatches(subs []*SubQuery, sources []Source) {
	for _, sub := range subs {
		if sub.Answered || len(versionTokens(sub.Question)) == 0 {
			continue
		}
		base := stripVersionTokens(sub.Question)
		for _, src := range sources {
			text := src.Content
			if text == "" {
				text = src.Summary
			}
			if !versionTokenSatisfied(sub.Question, text) {
				continue
			}
			if keywordCoverage(base, text) < 0.5 {
				continue
			}
			answer := src.Summary
			if answer == "" {
				answer = src.Title
			}
			sub.Update(versionMatchConfidence, answer, []string{src.URL}, e.cfg.MinAnswerConfidence)
			break
		}
	}
}
