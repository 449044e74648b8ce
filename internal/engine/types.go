// Package engine implements the research orchestration core: a multi-phase
// state machine that understands a question, plans searches, gathers and
// scores web sources under a character budget, and streams a synthesized,
// cited answer as an ordered event stream.
package engine

import (
	"sync"
)

// Phase is the current stage of a research run.
type Phase string

const (
	PhaseUnderstanding Phase = "understanding"
	PhasePlanning      Phase = "planning"
	PhaseSearching     Phase = "searching"
	PhaseScraping      Phase = "scraping"
	PhaseAnalyzing     Phase = "analyzing"
	PhaseSynthesizing  Phase = "synthesizing"
	PhaseComplete      Phase = "complete"
	PhaseError         Phase = "error"
)

// ErrKind classifies a run failure for retry routing.
type ErrKind string

const (
	ErrKindSearch  ErrKind = "search"
	ErrKindScrape  ErrKind = "scrape"
	ErrKindLLM     ErrKind = "llm"
	ErrKindUnknown ErrKind = "unknown"
)

// Turn is one prior conversation exchange supplied by the caller.
type Turn struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// Source is a discovered web document candidate. URL is the unique key
// within a run.
type Source struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content,omitempty"`
	Summary string  `json:"summary,omitempty"`
	Quality float64 `json:"quality"`
}

// merge combines two records for the same URL. The richer record wins per
// field: a merged source is never emptier than either input.
func merge(prev, next Source) Source {
	out := prev
	if next.Title != "" {
		out.Title = next.Title
	}
	if len(next.Content) > len(out.Content) {
		out.Content = next.Content
	}
	if len(next.Summary) > len(out.Summary) {
		out.Summary = next.Summary
	}
	if next.Quality > out.Quality {
		out.Quality = next.Quality
	}
	return out
}

// SourceMap is the run's deduplicating source accumulator. It preserves
// insertion order and is safe for the concurrent per-source summarization
// the searching phase performs.
type SourceMap struct {
	mu    sync.Mutex
	order []string
	byURL map[string]Source
}

func NewSourceMap() *SourceMap {
	return &SourceMap{byURL: make(map[string]Source)}
}

// Upsert merges src into the map by URL.
func (m *SourceMap) Upsert(src Source) {
	if src.URL == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byURL[src.URL]; ok {
		m.byURL[src.URL] = merge(prev, src)
		return
	}
	m.order = append(m.order, src.URL)
	m.byURL[src.URL] = src
}

// SetSummary records a computed summary for an existing entry. Summaries
// only add; an empty summary never clears a stored one.
func (m *SourceMap) SetSummary(url, summary string) {
	if summary == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if src, ok := m.byURL[url]; ok {
		src.Summary = summary
		m.byURL[url] = src
	}
}

// Get returns the entry for url, if present.
func (m *SourceMap) Get(url string) (Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.byURL[url]
	return src, ok
}

// Len returns the number of distinct sources.
func (m *SourceMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// All returns the sources in insertion order.
func (m *SourceMap) All() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Source, 0, len(m.order))
	for _, url := range m.order {
		out = append(out, m.byURL[url])
	}
	return out
}

// SubQuery is one independently answerable factual question decomposed from
// the user's query.
type SubQuery struct {
	Question    string   `json:"question"`
	SearchQuery string   `json:"search_query"`
	Answered    bool     `json:"answered"`
	Confidence  float64  `json:"confidence"`
	Answer      string   `json:"answer,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// Update applies a new answer-check verdict. Confidence is monotonically
// non-decreasing: a verdict with lower confidence than the stored value is
// ignored. Answered holds only when confidence clears minConfidence.
func (q *SubQuery) Update(confidence float64, answer string, sources []string, minConfidence float64) {
	confidence = clamp01(confidence)
	if confidence <= q.Confidence {
		return
	}
	q.Confidence = confidence
	q.Answered = confidence >= minConfidence
	if answer != "" {
		q.Answer = answer
	}
	for _, s := range sources {
		if s != "" && !contains(q.Sources, s) {
			q.Sources = append(q.Sources, s)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// RunState is the single mutable record threaded through one run. It is
// owned by the run's goroutine; only the source map is touched concurrently.
type RunState struct {
	Query string
	Turns []Turn

	Understanding string
	SearchQueries []string
	SearchIndex   int
	SubQueries    []*SubQuery

	Sources   *SourceMap
	Scraped   []Source // append-only
	Processed []Source // budgeted set, last write wins

	Phase          Phase
	Err            error
	ErrKind        ErrKind
	RetryCount     int
	SearchAttempt  int
	SearchFailures int
	Steps          int

	Answer    string
	FollowUps []string
}

func newRunState(query string, turns []Turn) *RunState {
	return &RunState{
		Query:   query,
		Turns:   turns,
		Sources: NewSourceMap(),
		Phase:   PhaseUnderstanding,
	}
}

// unanswered returns the sub-queries still lacking a confident answer.
func (s *RunState) unanswered(minConfidence float64) []*SubQuery {
	var out []*SubQuery
	for _, q := range s.SubQueries {
		if !q.Answered || q.Confidence < minConfidence {
			out = append(out, q)
		}
	}
	return out
}

func (s *RunState) fail(kind ErrKind, err error) {
	s.Err = err
	s.ErrKind = kind
	s.Phase = PhaseError
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
