package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quester-ai/quester/config"
	"github.com/quester-ai/quester/internal/llm"
	"github.com/quester-ai/quester/tools/web_fetch/models"
	"github.com/quester-ai/quester/tools/web_search"
)

// fakeClient scripts one gateway tier. The complete function receives the
// last message's content and dispatches on prompt markers.
type fakeClient struct {
	mu        sync.Mutex
	completes int
	complete  func(prompt string) (string, error)
	stream    func(prompt string, onChunk func(string)) error
}

func (f *fakeClient) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	f.completes++
	f.mu.Unlock()
	if f.complete == nil {
		return "", nil
	}
	return f.complete(msgs[len(msgs)-1].Content)
}

func (f *fakeClient) Stream(ctx context.Context, msgs []llm.Message, onChunk func(string)) error {
	prompt := msgs[len(msgs)-1].Content
	if f.stream != nil {
		return f.stream(prompt, onChunk)
	}
	out, err := f.Complete(ctx, msgs)
	if err != nil {
		return err
	}
	onChunk(out)
	return nil
}

func (f *fakeClient) completeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completes
}

type fakeSearcher struct {
	mu      sync.Mutex
	results []web_search.Result
	err     error
	calls   int
}

func (s *fakeSearcher) Name() string { return "fake" }

func (s *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]web_search.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

// funcSearcher scripts results per query and records what was searched.
type funcSearcher struct {
	mu      sync.Mutex
	queries []string
	fn      func(query string) ([]web_search.Result, error)
}

func (s *funcSearcher) Name() string { return "scripted" }

func (s *funcSearcher) Search(ctx context.Context, query string, limit int) ([]web_search.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return s.fn(query)
}

func (s *funcSearcher) searched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type fakeFetcher struct {
	result models.Result
	err    error
}

func (f *fakeFetcher) Exec(ctx context.Context, url string) (models.Result, error) {
	if f.err != nil {
		return models.Result{}, f.err
	}
	res := f.result
	res.URL = url
	return res, nil
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxSearchQueries:       5,
		SourcesPerSearch:       8,
		MaxSourcesToScrape:     5,
		MaxSourcesToSynthesize: 12,
		MaxSourcesToCheck:      10,
		MinContentLength:       40,
		MinSummaryLength:       20,
		MaxRetries:             2,
		MaxSearchAttempts:      3,
		MinAnswerConfidence:    0.7,
		ContextPreviewChars:    500,
		CharBudget:             100000,
		SourceFloorChars:       2000,
		SourceCeilingChars:     15000,
		FetchTimeout:           100 * time.Millisecond,
		MaxSteps:               60,
	}
}

const anthropicFact = "Anthropic was founded in 2021 by Dario Amodei and others from OpenAI."

// scriptedFast answers each prompt kind the engine sends during a run.
func scriptedFast() *fakeClient {
	return &fakeClient{complete: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Restate what the user wants"):
			return "The user wants to know who founded Anthropic and in what year.", nil
		case strings.Contains(prompt, "Decompose the research question"):
			return `[{"question":"Who founded Anthropic?","search_query":"Anthropic founders"},
{"question":"When was Anthropic founded?","search_query":"Anthropic founding year"}]`, nil
		case strings.Contains(prompt, "Summarize the following web page"):
			return "This source is directly relevant: " + anthropicFact, nil
		case strings.Contains(prompt, "For each question decide"):
			return `[{"question":"Who founded Anthropic?","answered":true,"confidence":0.9,"answer":"Dario Amodei and others","sources":["https://example.com/anthropic"]},
{"question":"When was Anthropic founded?","answered":true,"confidence":0.9,"answer":"2021","sources":["https://example.com/anthropic"]}]`, nil
		case strings.Contains(prompt, "follow-up questions"):
			return "What products does Anthropic build?\nWho funds Anthropic?\nHow large is Anthropic today?", nil
		case strings.Contains(prompt, "alternative search phrase"):
			return "Anthropic company history", nil
		default:
			return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
		}
	}}
}

func newTestEngine(fast, quality *fakeClient, searcher Searcher, fetcher PageFetcher) *Engine {
	return New(testEngineConfig(), &llm.Gateway{Fast: fast, Quality: quality}, searcher, fetcher, nil)
}

func collectEvents(e *Engine, query string) []Event {
	var events []Event
	var mu sync.Mutex
	e.Run(context.Background(), query, nil, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	return events
}

func TestRunCompletesEndToEnd(t *testing.T) {
	fast := scriptedFast()
	quality := &fakeClient{complete: func(prompt string) (string, error) {
		return "Anthropic was founded in 2021 [1] by Dario Amodei and colleagues [1].", nil
	}}
	searcher := &fakeSearcher{results: []web_search.Result{
		{URL: "https://example.com/anthropic", Title: "About Anthropic", Content: anthropicFact},
	}}
	e := newTestEngine(fast, quality, searcher, &fakeFetcher{result: models.Result{Success: true}})

	events := collectEvents(e, "Who founded Anthropic and when")
	if len(events) < 4 {
		t.Fatalf("expected a full event stream, got %d events", len(events))
	}
	if events[0].Type != EventPhase || events[0].Phase != PhaseUnderstanding {
		t.Fatalf("first event should be phase/understanding, got %s/%s", events[0].Type, events[0].Phase)
	}

	last := events[len(events)-1]
	prev := events[len(events)-2]
	if prev.Type != EventPhase || prev.Phase != PhaseComplete {
		t.Fatalf("penultimate event should be phase/complete, got %s/%s", prev.Type, prev.Phase)
	}
	if last.Type != EventResult {
		t.Fatalf("final event should be final_result, got %s", last.Type)
	}
	if last.Result == nil || last.Result.Answer == "" {
		t.Fatalf("final result missing answer")
	}
	if len(last.Result.Sources) != 1 {
		t.Fatalf("expected 1 deduplicated source, got %d", len(last.Result.Sources))
	}
	if len(last.Result.FollowUps) != 3 {
		t.Fatalf("expected 3 follow-ups, got %d", len(last.Result.FollowUps))
	}

	sawChunk := false
	for _, ev := range events {
		if ev.Type == EventChunk {
			sawChunk = true
		}
		if ev.Type == EventError {
			t.Fatalf("unexpected error event: %s", ev.Error)
		}
	}
	if !sawChunk {
		t.Fatalf("expected streamed content chunks")
	}
}

func TestZeroResultSearchStillCompletes(t *testing.T) {
	fast := scriptedFast()
	// No sources means the checker has nothing to confirm.
	fast.complete = wrapComplete(fast.complete, func(prompt string) (string, bool) {
		if strings.Contains(prompt, "For each question decide") {
			return `[]`, true
		}
		return "", false
	})
	quality := &fakeClient{complete: func(prompt string) (string, error) {
		return "No reliable sources were found, but in general Anthropic was founded in 2021.", nil
	}}
	e := newTestEngine(fast, quality, &fakeSearcher{results: nil}, &fakeFetcher{result: models.Result{Success: true}})

	events := collectEvents(e, "Who founded Anthropic and when")
	last := events[len(events)-1]
	if last.Type != EventResult {
		t.Fatalf("run with zero search results should still complete, last event: %s", last.Type)
	}
	if last.Result.Answer == "" {
		t.Fatalf("expected a degraded but non-empty answer")
	}
}

// wrapComplete overlays an override on a scripted complete function.
func wrapComplete(base func(string) (string, error), override func(string) (string, bool)) func(string) (string, error) {
	return func(prompt string) (string, error) {
		if out, ok := override(prompt); ok {
			return out, nil
		}
		return base(prompt)
	}
}

func TestUnderstandingFailureRetriesThenErrors(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	fast := &fakeClient{complete: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Restate what the user wants") {
			mu.Lock()
			attempts++
			mu.Unlock()
			return "", errors.New("model unavailable")
		}
		return "", nil
	}}
	cfg := testEngineConfig()
	cfg.MaxRetries = 1
	e := New(cfg, &llm.Gateway{Fast: fast, Quality: fast}, &fakeSearcher{}, &fakeFetcher{}, nil)

	var events []Event
	e.Run(context.Background(), "anything", nil, func(ev Event) { events = append(events, ev) })

	if attempts != 2 {
		t.Fatalf("expected exactly one retry (2 attempts), got %d", attempts)
	}
	last := events[len(events)-1]
	if last.Type != EventError || last.ErrKind != ErrKindLLM {
		t.Fatalf("run should terminate with an llm error event, got %s/%s", last.Type, last.ErrKind)
	}
}

func TestAllFetchTimeoutsStillCompletes(t *testing.T) {
	fast := scriptedFast()
	// Short snippets force scraping; garbage verdicts leave sub-queries
	// unanswered so every retry attempt is spent.
	fast.complete = wrapComplete(fast.complete, func(prompt string) (string, bool) {
		if strings.Contains(prompt, "For each question decide") {
			return "the model rambled instead of returning JSON", true
		}
		return "", false
	})
	quality := &fakeClient{complete: func(prompt string) (string, error) {
		return "Little could be gathered, but the question concerns Anthropic's founding.", nil
	}}
	searcher := &fakeSearcher{results: []web_search.Result{
		{URL: "https://example.com/a", Title: "A", Content: "short"},
		{URL: "https://example.com/b", Title: "B", Content: "stub"},
	}}
	fetcher := &fakeFetcher{result: models.Result{Success: false, ErrKind: models.ErrKindTimeout}}
	e := newTestEngine(fast, quality, searcher, fetcher)

	events := collectEvents(e, "Who founded Anthropic and when")
	last := events[len(events)-1]
	if last.Type != EventResult {
		t.Fatalf("run with all fetches timing out should still complete, last event: %s", last.Type)
	}
	if last.Result.Answer == "" {
		t.Fatalf("expected a non-empty degraded answer")
	}
}

func TestSearchErrorRoutesBackToSearching(t *testing.T) {
	fast := scriptedFast()
	searcher := &fakeSearcher{err: errors.New("provider down")}
	cfg := testEngineConfig()
	cfg.MaxRetries = 0
	e := New(cfg, &llm.Gateway{Fast: fast, Quality: fast}, searcher, &fakeFetcher{}, nil)

	var events []Event
	e.Run(context.Background(), "Who founded Anthropic and when", nil, func(ev Event) { events = append(events, ev) })

	last := events[len(events)-1]
	if last.Type != EventError || last.ErrKind != ErrKindSearch {
		t.Fatalf("expected terminal search error, got %s/%s", last.Type, last.ErrKind)
	}
}

// A search pass that fails for some queries must not poison the next pass:
// after the retry pass succeeds for every remaining query, the run completes
// instead of reporting that all searches failed.
func TestFailedSearchesDoNotCarryIntoRetryPass(t *testing.T) {
	fast := scriptedFast()
	var checks int32
	fast.complete = wrapComplete(fast.complete, func(prompt string) (string, bool) {
		if !strings.Contains(prompt, "For each question decide") {
			return "", false
		}
		if atomic.AddInt32(&checks, 1) == 1 {
			// only the founding-year search found support on the first pass
			return `[{"question":"Who founded Anthropic?","answered":false,"confidence":0.2},
{"question":"When was Anthropic founded?","answered":true,"confidence":0.9,"answer":"2021","sources":["https://example.com/anthropic"]}]`, true
		}
		return `[{"question":"Who founded Anthropic?","answered":true,"confidence":0.9,"answer":"Dario Amodei and others","sources":["https://example.com/history"]}]`, true
	})
	quality := &fakeClient{complete: func(prompt string) (string, error) {
		return "Anthropic was founded in 2021 [1] by Dario Amodei and colleagues [2].", nil
	}}
	searcher := &funcSearcher{fn: func(query string) ([]web_search.Result, error) {
		if query == "Anthropic founders" {
			return nil, errors.New("provider down")
		}
		return []web_search.Result{
			{URL: "https://example.com/anthropic", Title: "About Anthropic", Content: anthropicFact},
		}, nil
	}}
	e := newTestEngine(fast, quality, searcher, &fakeFetcher{result: models.Result{Success: true}})

	events := collectEvents(e, "Who founded Anthropic and when")
	for _, ev := range events {
		if ev.Type == EventError {
			t.Fatalf("clean retry pass should not produce an error event: %s", ev.Error)
		}
	}
	last := events[len(events)-1]
	if last.Type != EventResult {
		t.Fatalf("run should complete after the retry pass, last event: %s", last.Type)
	}

	searched := searcher.searched()
	if len(searched) != 3 {
		t.Fatalf("expected 3 searches (2 first pass + 1 retry), got %v", searched)
	}
	if searched[2] != "Anthropic company history" {
		t.Fatalf("retry pass should use the alternate phrase, searched %q", searched[2])
	}
}

// One answered sub-question after two search attempts is enough: the run
// synthesizes from what it has instead of burning the remaining attempts.
func TestPartialAnswersStopRetryingAfterTwoAttempts(t *testing.T) {
	fast := &fakeClient{complete: func(prompt string) (string, error) {
		// verdicts never parse, so sub-queries keep their state
		return "the model rambled instead of returning JSON", nil
	}}
	e := newTestEngine(fast, fast, &fakeSearcher{}, &fakeFetcher{})

	state := newRunState("Who founded Anthropic and when", nil)
	state.SubQueries = []*SubQuery{
		{Question: "Who founded Anthropic?", SearchQuery: "Anthropic founders", Answered: true, Confidence: 0.9},
		{Question: "When was Anthropic founded?", SearchQuery: "Anthropic founding year"},
	}

	state.SearchAttempt = 1
	state.Phase = PhaseAnalyzing
	e.stepAnalyzing(context.Background(), state)
	if state.Phase != PhasePlanning {
		t.Fatalf("one of two answered at attempt 1 should retry, got phase %s", state.Phase)
	}

	state.SearchAttempt = 2
	state.Phase = PhaseAnalyzing
	e.stepAnalyzing(context.Background(), state)
	if state.Phase != PhaseSynthesizing {
		t.Fatalf("partial answers after 2 attempts should synthesize, got phase %s", state.Phase)
	}
}

// A retry that re-enters searching announces the phase again so callers can
// observe the re-entry.
func TestSearchRetryReemitsSearchingPhase(t *testing.T) {
	fast := scriptedFast()
	quality := &fakeClient{complete: func(prompt string) (string, error) {
		return "Anthropic was founded in 2021 [1] by Dario Amodei and colleagues [1].", nil
	}}
	var calls int32
	searcher := &funcSearcher{fn: func(query string) ([]web_search.Result, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, errors.New("provider down")
		}
		return []web_search.Result{
			{URL: "https://example.com/anthropic", Title: "About Anthropic", Content: anthropicFact},
		}, nil
	}}
	e := newTestEngine(fast, quality, searcher, &fakeFetcher{result: models.Result{Success: true}})

	events := collectEvents(e, "Who founded Anthropic and when")
	last := events[len(events)-1]
	if last.Type != EventResult {
		t.Fatalf("retry pass should complete the run, last event: %s", last.Type)
	}
	searching := 0
	for _, ev := range events {
		if ev.Type == EventPhase && ev.Phase == PhaseSearching {
			searching++
		}
	}
	if searching != 2 {
		t.Fatalf("phase/searching should be announced again after the retry, got %d", searching)
	}
}

func TestAnthropicDecompositionAndCheck(t *testing.T) {
	fast := scriptedFast()
	e := newTestEngine(fast, fast, &fakeSearcher{}, &fakeFetcher{})

	state := newRunState("Who founded Anthropic and when", nil)
	if err := e.decompose(context.Background(), state); err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(state.SubQueries) != 2 {
		t.Fatalf("expected 2 sub-queries, got %d", len(state.SubQueries))
	}
	for _, q := range state.SubQueries {
		if q.SearchQuery == "" {
			t.Fatalf("sub-query %q has empty search query", q.Question)
		}
	}

	state.Sources.Upsert(Source{
		URL:     "https://example.com/anthropic",
		Title:   "About Anthropic",
		Content: anthropicFact,
	})
	e.checkAnswers(context.Background(), state)

	for _, q := range state.SubQueries {
		if !q.Answered {
			t.Fatalf("sub-query %q should be answered", q.Question)
		}
		if q.Confidence < 0.8 {
			t.Fatalf("sub-query %q confidence %f, want >= 0.8", q.Question, q.Confidence)
		}
	}
}
