package engine

import "testing"

func TestSourceMapDedupAndRicherWins(t *testing.T) {
	m := NewSourceMap()
	m.Upsert(Source{URL: "https://a", Title: "A", Content: "short", Quality: 0.4})
	m.Upsert(Source{URL: "https://a", Content: "a much longer fetched body of content", Quality: 0.2})
	m.Upsert(Source{URL: "https://b", Title: "B"})

	if m.Len() != 2 {
		t.Fatalf("expected 2 distinct sources, got %d", m.Len())
	}

	src, ok := m.Get("https://a")
	if !ok {
		t.Fatalf("source a missing")
	}
	if src.Title != "A" {
		t.Fatalf("merge dropped the title: %q", src.Title)
	}
	if src.Content != "a much longer fetched body of content" {
		t.Fatalf("merge should keep the longer content: %q", src.Content)
	}
	if src.Quality != 0.4 {
		t.Fatalf("merge should keep the higher quality: %f", src.Quality)
	}

	// A later emptier record never empties the merged entry.
	m.Upsert(Source{URL: "https://a"})
	src, _ = m.Get("https://a")
	if src.Title == "" || src.Content == "" {
		t.Fatalf("merged entry became emptier: %+v", src)
	}

	// Order is insertion order.
	all := m.All()
	if all[0].URL != "https://a" || all[1].URL != "https://b" {
		t.Fatalf("insertion order lost: %v", []string{all[0].URL, all[1].URL})
	}
}

func TestSourceMapSummaryOnlyAdds(t *testing.T) {
	m := NewSourceMap()
	m.Upsert(Source{URL: "https://a", Summary: "existing summary text"})
	m.SetSummary("https://a", "")
	src, _ := m.Get("https://a")
	if src.Summary != "existing summary text" {
		t.Fatalf("empty summary cleared the stored one")
	}
	m.SetSummary("https://a", "replacement summary text")
	src, _ = m.Get("https://a")
	if src.Summary != "replacement summary text" {
		t.Fatalf("summary not updated: %q", src.Summary)
	}
}

func TestSubQueryConfidenceMonotonic(t *testing.T) {
	q := &SubQuery{Question: "who founded anthropic"}

	q.Update(0.5, "partial", []string{"https://a"}, 0.7)
	if q.Answered {
		t.Fatalf("0.5 confidence should not clear a 0.7 threshold")
	}
	if q.Confidence != 0.5 {
		t.Fatalf("confidence not stored: %f", q.Confidence)
	}

	// Lower verdicts are ignored.
	q.Update(0.3, "worse", nil, 0.7)
	if q.Confidence != 0.5 || q.Answer != "partial" {
		t.Fatalf("lower confidence overwrote state: %f %q", q.Confidence, q.Answer)
	}

	q.Update(0.9, "full answer", []string{"https://a", "https://b"}, 0.7)
	if !q.Answered || q.Confidence != 0.9 {
		t.Fatalf("high confidence should mark answered: %v %f", q.Answered, q.Confidence)
	}
	if len(q.Sources) != 2 {
		t.Fatalf("source URLs should dedupe and accumulate: %v", q.Sources)
	}

	// Out-of-range input clamps.
	q.Update(1.5, "", nil, 0.7)
	if q.Confidence != 1.0 {
		t.Fatalf("confidence should clamp to 1.0, got %f", q.Confidence)
	}
}
