package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quester-ai/quester/internal/llm"
)

// understand produces a short restatement of the user's intent, optionally
// grounded in the last two prior turns.
func (e *Engine) understand(ctx context.Context, state *RunState) (string, error) {
	var b strings.Builder
	turns := state.Turns
	if len(turns) > 2 {
		turns = turns[len(turns)-2:]
	}
	for _, t := range turns {
		resp := truncate(t.Response, e.cfg.ContextPreviewChars)
		fmt.Fprintf(&b, "Previous question: %s\nPrevious answer: %s\n\n", t.Query, resp)
	}
	prompt := fmt.Sprintf(`%sRestate what the user wants to find out, in one or two sentences. Question: %q`, b.String(), state.Query)

	out, err := e.gateway.Fast.Complete(ctx, llm.UserMessage(prompt))
	e.telemetry.RecordLLMCall("fast", err == nil)
	if err != nil {
		return "", fmt.Errorf("understanding: %w", err)
	}
	return strings.TrimSpace(out), nil
}

type plannedSubQuery struct {
	Question    string `json:"question"`
	SearchQuery string `json:"search_query"`
}

// decompose splits the query into 3-5 independently answerable sub-questions
// with dedicated search phrases. Version-like tokens must survive verbatim
// in the question; the search phrase may simplify them. A parse failure
// degrades to treating the whole query as a single sub-question.
func (e *Engine) decompose(ctx context.Context, state *RunState) error {
	prompt := fmt.Sprintf(`Decompose the research question into 3-5 independently answerable factual sub-questions, each with a web search phrase.
Keep any version-like identifiers (build numbers, version strings) verbatim in the question text; the search phrase may simplify them.
Respond with a JSON array only: [{"question": "...", "search_query": "..."}]

Interpretation of the question: %s
Question: %q`, state.Understanding, state.Query)

	out, err := e.gateway.Fast.Complete(ctx, llm.UserMessage(prompt))
	e.telemetry.RecordLLMCall("fast", err == nil)
	if err != nil {
		return fmt.Errorf("decompose: %w", err)
	}

	var parsed []plannedSubQuery
	if err := json.Unmarshal([]byte(extractFirstJSONArray(out)), &parsed); err != nil || len(parsed) == 0 {
		// fallback: the query itself is the single sub-question
		state.SubQueries = []*SubQuery{{Question: state.Query, SearchQuery: state.Query}}
		return nil
	}
	if len(parsed) > e.cfg.MaxSearchQueries {
		parsed = parsed[:e.cfg.MaxSearchQueries]
	}
	for _, p := range parsed {
		q := strings.TrimSpace(p.Question)
		sq := strings.TrimSpace(p.SearchQuery)
		if q == "" {
			continue
		}
		if sq == "" {
			sq = q
		}
		state.SubQueries = append(state.SubQueries, &SubQuery{Question: q, SearchQuery: sq})
	}
	if len(state.SubQueries) == 0 {
		state.SubQueries = []*SubQuery{{Question: state.Query, SearchQuery: state.Query}}
	}
	return nil
}

// alternateQuery rephrases a failed search: broader terms via the fast tier,
// with a deterministic fallback. After two failed attempts a version-like
// token in the question is dropped from the phrase entirely so the base term
// alone can match.
func (e *Engine) alternateQuery(ctx context.Context, sub *SubQuery, attempt int) string {
	if attempt >= 2 && len(versionTokens(sub.Question)) > 0 {
		if stripped := stripVersionTokens(sub.SearchQuery); stripped != "" {
			return stripped
		}
	}

	prompt := fmt.Sprintf(`The search phrase %q found no answer to the question %q.
Suggest one alternative search phrase: broader terms, synonyms, or dropping an overly specific qualifier.
Respond with the phrase only.`, sub.SearchQuery, sub.Question)

	out, err := e.gateway.Fast.Complete(ctx, llm.UserMessage(prompt))
	e.telemetry.RecordLLMCall("fast", err == nil)
	if err == nil {
		if alt := strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"`)); alt != "" {
			return alt
		}
	}
	// deterministic fallback: drop the last qualifier word
	fields := strings.Fields(sub.SearchQuery)
	if len(fields) > 2 {
		return strings.Join(fields[:len(fields)-1], " ")
	}
	return sub.SearchQuery
}

// plan fills state.SearchQueries for the next searching pass. It returns
// true when every sub-question is already answered and the run can skip
// straight to analyzing.
func (e *Engine) plan(ctx context.Context, state *RunState) (skipToAnalyzing bool, err error) {
	if e.cfg.SpeedMode {
		state.SearchQueries = []string{state.Query}
		state.SearchIndex = 0
		state.SearchFailures = 0
		return false, nil
	}

	if len(state.SubQueries) == 0 {
		if err := e.decompose(ctx, state); err != nil {
			return false, err
		}
	}

	unanswered := state.unanswered(e.cfg.MinAnswerConfidence)
	if len(unanswered) == 0 {
		return true, nil
	}

	var queries []string
	for _, sub := range unanswered {
		query := sub.SearchQuery
		if state.SearchAttempt > 0 {
			query = e.alternateQuery(ctx, sub, state.SearchAttempt)
			sub.SearchQuery = query
		}
		queries = append(queries, query)
		if len(queries) >= e.cfg.MaxSearchQueries {
			break
		}
	}
	// A fresh pass gets a fresh failure count; leftovers from a previous
	// pass must not trip the all-failed check against a shorter query list.
	state.SearchQueries = queries
	state.SearchIndex = 0
	state.SearchFailures = 0
	return false, nil
}
