package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quester-ai/quester/config"
	"github.com/quester-ai/quester/internal/llm"
	"github.com/quester-ai/quester/internal/telemetry"
	"github.com/quester-ai/quester/tools/web_fetch/models"
	"github.com/quester-ai/quester/tools/web_search"
)

var engineTracer trace.Tracer = otel.Tracer("quester/internal/engine")

// Searcher is the search half of the content fetcher. Zero results is an
// empty slice, not an error.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]web_search.Result, error)
	Name() string
}

// PageFetcher is the page half. Fetch failures are soft: inspect
// Result.Success, not the error.
type PageFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

// Engine drives research runs. One Engine serves many runs; each run owns
// its own RunState.
type Engine struct {
	cfg       config.EngineConfig
	gateway   *llm.Gateway
	searcher  Searcher
	fetcher   PageFetcher
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// New creates an engine. Configuration is fixed for the lifetime of every
// run the engine starts.
func New(cfg config.EngineConfig, gateway *llm.Gateway, searcher Searcher, fetcher PageFetcher, tel *telemetry.Telemetry) *Engine {
	if tel == nil {
		tel = telemetry.NewTelemetry(config.TelemetryConfig{})
	}
	return &Engine{
		cfg:       cfg,
		gateway:   gateway,
		searcher:  searcher,
		fetcher:   fetcher,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
	}
}

// Run executes one research run. It never returns an error: every failure
// surfaces on the event stream, and the last event is always either a
// final_result (preceded by phase/complete) or an error. Cancel ctx to
// enforce an overall deadline.
func (e *Engine) Run(ctx context.Context, query string, turns []Turn, emit EmitFunc) {
	runID := uuid.NewString()
	start := time.Now()

	// Serialize emission: parallel per-source work may emit concurrently.
	var emitMu sync.Mutex
	em := emitter{emit: func(ev Event) {
		emitMu.Lock()
		defer emitMu.Unlock()
		if emit != nil {
			emit(ev)
		}
	}}

	ctx, span := engineTracer.Start(ctx, "engine.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	state := newRunState(query, turns)
	e.logger.Printf("run %s started: %q", runID, query)

	defer func() {
		e.telemetry.RecordRun(time.Since(start), state.Phase == PhaseComplete)
		e.logger.Printf("run %s finished in %v (phase=%s)", runID, time.Since(start), state.Phase)
	}()

	var lastPhase Phase
	for state.Steps < e.cfg.MaxSteps {
		state.Steps++

		if err := ctx.Err(); err != nil {
			em.error(ErrKindUnknown, fmt.Errorf("run cancelled: %w", err))
			return
		}

		if state.Phase != lastPhase && state.Phase != PhaseError {
			em.phase(state.Phase)
			lastPhase = state.Phase
		}

		if state.Phase == PhaseComplete {
			em.result(Result{
				Answer:    state.Answer,
				Sources:   state.Sources.All(),
				FollowUps: state.FollowUps,
			})
			return
		}

		pctx, phaseSpan := engineTracer.Start(ctx, "engine."+string(state.Phase))
		switch state.Phase {
		case PhaseUnderstanding:
			e.stepUnderstanding(pctx, state, em)
		case PhasePlanning:
			e.stepPlanning(pctx, state)
		case PhaseSearching:
			e.stepSearching(pctx, state, em)
		case PhaseScraping:
			e.stepScraping(pctx, state, em)
		case PhaseAnalyzing:
			e.stepAnalyzing(pctx, state)
		case PhaseSynthesizing:
			e.stepSynthesizing(pctx, state, em)
		case PhaseError:
			if terminal := e.stepError(state, em); terminal {
				phaseSpan.End()
				return
			}
			// Re-entering a phase after a retry is observable: force the
			// next phase event even if the phase repeats.
			lastPhase = ""
		default:
			state.fail(ErrKindUnknown, fmt.Errorf("unknown phase %q", state.Phase))
		}
		phaseSpan.End()
	}

	em.error(ErrKindUnknown, fmt.Errorf("run exceeded step ceiling (%d)", e.cfg.MaxSteps))
}

func (e *Engine) stepUnderstanding(ctx context.Context, state *RunState, em emitter) {
	em.thinking("Understanding the question")
	understanding, err := e.understand(ctx, state)
	if err != nil {
		state.fail(ErrKindLLM, err)
		return
	}
	state.Understanding = understanding
	em.thinking(understanding)
	state.Phase = PhasePlanning
}

func (e *Engine) stepPlanning(ctx context.Context, state *RunState) {
	skip, err := e.plan(ctx, state)
	if err != nil {
		state.fail(ErrKindLLM, err)
		return
	}
	if skip || len(state.SearchQueries) == 0 {
		state.Phase = PhaseAnalyzing
		return
	}
	state.Phase = PhaseSearching
}

// stepSearching processes one query per invocation, self-looping until the
// query list is exhausted. A single failed search advances the index and
// continues; only every query failing is fatal.
func (e *Engine) stepSearching(ctx context.Context, state *RunState, em emitter) {
	if state.SearchIndex >= len(state.SearchQueries) {
		if len(state.SearchQueries) > 0 && state.SearchFailures >= len(state.SearchQueries) {
			state.fail(ErrKindSearch, fmt.Errorf("all %d searches failed", len(state.SearchQueries)))
			return
		}
		state.Phase = PhaseScraping
		return
	}

	query := state.SearchQueries[state.SearchIndex]
	state.SearchIndex++
	em.searching(query)

	results, err := e.searcher.Search(ctx, query, e.cfg.SourcesPerSearch)
	e.telemetry.RecordSearch(e.searcher.Name(), err == nil)
	if err != nil {
		state.SearchFailures++
		e.logger.Printf("search %q failed: %v", query, err)
		return
	}

	if len(results) > e.cfg.SourcesPerSearch {
		results = results[:e.cfg.SourcesPerSearch]
	}
	found := make([]Source, 0, len(results))
	for _, r := range results {
		src := Source{
			URL:     r.URL,
			Title:   r.Title,
			Content: r.Content,
			Quality: ContentScore(state.Query, r.Content),
		}
		state.Sources.Upsert(src)
		found = append(found, src)
	}
	if len(found) > 0 {
		em.found(found)
	}

	e.summarizeBatch(ctx, state, em, found)
}

// summarizeBatch summarizes every source in the batch whose content clears
// the minimum length, in parallel when configured. Results merge into the
// shared source map; summaries only add.
func (e *Engine) summarizeBatch(ctx context.Context, state *RunState, em emitter, batch []Source) {
	target := summaryTargetLength(state.Sources.Len())

	work := func(src Source) {
		em.sourceProcessing(src.URL)
		summary, err := e.summarize(ctx, state.Query, src, target)
		if err != nil {
			e.logger.Printf("summarization skipped for %s: %v", src.URL, err)
		} else {
			state.Sources.SetSummary(src.URL, summary)
		}
		em.sourceComplete(src.URL)
	}

	var wg sync.WaitGroup
	for _, src := range batch {
		if len(src.Content) <= e.cfg.MinContentLength {
			continue
		}
		if e.cfg.ParallelProcessing {
			wg.Add(1)
			go func(src Source) {
				defer wg.Done()
				work(src)
			}(src)
		} else {
			work(src)
		}
	}
	wg.Wait()
}

// stepScraping fetches full content for sources whose snippets are too short
// to use, bounded by count and a per-fetch timeout. Every fetch failure is
// soft: skip the source and continue.
func (e *Engine) stepScraping(ctx context.Context, state *RunState, em emitter) {
	scraped := 0
	for _, src := range state.Sources.All() {
		if scraped >= e.cfg.MaxSourcesToScrape {
			break
		}
		if len(src.Content) >= e.cfg.MinContentLength {
			continue
		}
		scraped++
		em.scraping(src.URL)

		fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		res, err := e.fetcher.Exec(fctx, src.URL)
		cancel()
		e.telemetry.RecordFetch(err == nil && res.Success)
		if err != nil || !res.Success {
			kind := res.ErrKind
			if kind == "" {
				kind = models.ErrKindOther
			}
			e.logger.Printf("scrape %s failed (%s), skipping", src.URL, kind)
			continue
		}

		updated := Source{
			URL:     src.URL,
			Title:   res.Title,
			Content: res.Content,
			Quality: ContentScore(state.Query, res.Content),
		}
		state.Sources.Upsert(updated)
		state.Scraped = append(state.Scraped, updated)

		if len(res.Content) > e.cfg.MinContentLength {
			e.summarizeBatch(ctx, state, em, []Source{updated})
		}
	}
	state.Phase = PhaseAnalyzing
}

// stepAnalyzing decides whether the gathered sources suffice. Fast mode
// sorts and truncates; full mode answer-checks the sub-queries and loops
// back to planning while the retry budget holds.
func (e *Engine) stepAnalyzing(ctx context.Context, state *RunState) {
	merged := state.Sources.All()

	if e.cfg.SpeedMode {
		sortForSynthesis(merged, e.cfg.MinSummaryLength)
		if len(merged) > e.cfg.MaxSourcesToSynthesize {
			merged = merged[:e.cfg.MaxSourcesToSynthesize]
		}
		state.Processed = merged
		state.Phase = PhaseSynthesizing
		return
	}

	e.checkAnswers(ctx, state)

	answered := 0
	for _, q := range state.SubQueries {
		if q.Answered {
			answered++
		}
	}
	total := len(state.SubQueries)
	partialAfterRetries := answered > 0 && state.SearchAttempt >= 2
	if answered < total && state.SearchAttempt < e.cfg.MaxSearchAttempts && !partialAfterRetries {
		e.logger.Printf("answered %d/%d sub-questions, retrying search (attempt %d)",
			answered, total, state.SearchAttempt+1)
		state.SearchAttempt++
		state.Phase = PhasePlanning
		return
	}

	state.Processed = e.budget(ctx, state.Query, merged)
	state.Phase = PhaseSynthesizing
}

func (e *Engine) stepSynthesizing(ctx context.Context, state *RunState, em emitter) {
	answer, err := e.synthesize(ctx, state, em)
	if err != nil {
		state.fail(ErrKindLLM, err)
		return
	}
	state.Answer = answer
	state.FollowUps = e.followUps(ctx, state)
	state.Phase = PhaseComplete
}

// stepError emits the error event and applies the retry policy: llm-class
// failures restart from understanding, search-class from searching. Returns
// true when retries are exhausted and the run is over.
func (e *Engine) stepError(state *RunState, em emitter) bool {
	em.error(state.ErrKind, state.Err)
	if state.RetryCount >= e.cfg.MaxRetries {
		return true
	}
	state.RetryCount++
	kind := state.ErrKind
	state.Err = nil
	state.ErrKind = ""

	switch kind {
	case ErrKindSearch, ErrKindScrape:
		state.SearchIndex = 0
		state.SearchFailures = 0
		state.Phase = PhaseSearching
	default:
		state.Phase = PhaseUnderstanding
	}
	return false
}
