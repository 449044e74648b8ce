package engine

import (
	"context"
	"sort"
)

// sortForSynthesis orders sources for the synthesizer: summarized sources
// first, then by descending quality. Stable so insertion order breaks ties.
func sortForSynthesis(sources []Source, minSummaryLen int) {
	sort.SliceStable(sources, func(i, j int) bool {
		si := len(sources[i].Summary) > minSummaryLen
		sj := len(sources[j].Summary) > minSummaryLen
		if si != sj {
			return si
		}
		return sources[i].Quality > sources[j].Quality
	})
}

// budget selects and trims the working source set to fit the run's total
// character budget before synthesis.
//
// Fast path: when enough sources (min 8 or all of them) already carry a
// usable summary, the summaries stand in for content and no model is called.
// Full path: up to 8 of the highest-quality summary-less sources are
// summarized at a count-derived target length, falling back to deterministic
// keyword-window extraction per source on model failure; the budget is then
// split proportionally to relevance.
func (e *Engine) budget(ctx context.Context, query string, sources []Source) []Source {
	if len(sources) == 0 {
		return nil
	}

	usable := 0
	for _, s := range sources {
		if len(s.Summary) > e.cfg.MinSummaryLength {
			usable++
		}
	}
	need := 8
	if len(sources) < need {
		need = len(sources)
	}

	if usable >= need {
		out := make([]Source, len(sources))
		copy(out, sources)
		for i := range out {
			if len(out[i].Summary) > e.cfg.MinSummaryLength {
				out[i].Content = out[i].Summary
			}
		}
		sortForSynthesis(out, e.cfg.MinSummaryLength)
		if len(out) > e.cfg.MaxSourcesToSynthesize {
			out = out[:e.cfg.MaxSourcesToSynthesize]
		}
		return out
	}

	out := make([]Source, len(sources))
	copy(out, sources)

	// Index the summary-less candidates by quality, best first.
	var candidates []int
	for i, s := range out {
		if len(s.Summary) <= e.cfg.MinSummaryLength && s.Content != "" {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return out[candidates[a]].Quality > out[candidates[b]].Quality
	})
	if len(candidates) > 8 {
		candidates = candidates[:8]
	}

	target := summaryTargetLength(len(out))
	for _, i := range candidates {
		summary, err := e.summarize(ctx, query, out[i], target)
		if err != nil {
			e.logger.Printf("summarize failed for %s, falling back to keyword extraction: %v", out[i].URL, err)
			summary = keywordWindows(query, out[i].Content)
		}
		if summary != "" {
			out[i].Summary = summary
		}
	}

	out = e.allocate(query, out)
	sortForSynthesis(out, e.cfg.MinSummaryLength)
	if len(out) > e.cfg.MaxSourcesToSynthesize {
		out = out[:e.cfg.MaxSourcesToSynthesize]
	}
	return out
}

// fallbackSourceCount is how many sources survive budgeting when nothing
// scored as relevant.
const fallbackSourceCount = 3

// allocate distributes the total character budget across sources in
// proportion to relevance, with a per-source floor and ceiling.
// Zero-relevance sources are dropped unless nothing is relevant at all.
func (e *Engine) allocate(query string, sources []Source) []Source {
	type scored struct {
		src       Source
		relevance float64
	}
	var pool []scored
	for _, s := range sources {
		rel := s.Quality
		if len(s.Summary) > e.cfg.MinSummaryLength {
			rel = SummaryRelevance(query, s.Summary)
		}
		if rel > 0 {
			pool = append(pool, scored{src: s, relevance: rel})
		}
	}

	if len(pool) == 0 {
		n := fallbackSourceCount
		if len(sources) < n {
			n = len(sources)
		}
		out := make([]Source, n)
		copy(out, sources[:n])
		for i := range out {
			out[i].Content = truncate(out[i].Content, e.cfg.SourceFloorChars)
		}
		return out
	}

	total := 0.0
	for _, p := range pool {
		total += p.relevance
	}

	out := make([]Source, 0, len(pool))
	for _, p := range pool {
		share := int(float64(e.cfg.CharBudget) * p.relevance / total)
		if share < e.cfg.SourceFloorChars {
			share = e.cfg.SourceFloorChars
		}
		if share > e.cfg.SourceCeilingChars {
			share = e.cfg.SourceCeilingChars
		}
		src := p.src
		src.Content = truncate(src.Content, share)
		out = append(out, src)
	}
	return out
}
