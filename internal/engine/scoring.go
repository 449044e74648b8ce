package engine

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// truncate cuts s to at most n bytes, backing off to a rune boundary so a
// multibyte sequence is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ContentScore rates how well content matches the query: 0.2 per distinct
// query term found case-insensitively in the content, capped at 1.0. Pure
// and deterministic, no model call.
func ContentScore(query, content string) float64 {
	if content == "" {
		return 0
	}
	lower := strings.ToLower(content)
	seen := make(map[string]bool)
	hits := 0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if seen[term] {
			continue
		}
		seen[term] = true
		if strings.Contains(lower, term) {
			hits++
		}
	}
	score := 0.2 * float64(hits)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Marker phrases the summarization prompt instructs the model to use.
var (
	strongRelevanceMarkers = []string{"directly relevant", "directly addresses", "highly relevant"}
	lowRelevanceMarkers    = []string{"no direct relevance", "not relevant", "low relevance"}
)

// SummaryRelevance rates a model-produced summary against the query. A
// low-relevance marker pins the score to 0.1. Otherwise the score blends a
// length-based base (plus a strong-marker bonus) at weight 0.6 with keyword
// coverage at weight 0.4.
func SummaryRelevance(query, summary string) float64 {
	if summary == "" {
		return 0
	}
	lower := strings.ToLower(summary)
	for _, marker := range lowRelevanceMarkers {
		if strings.Contains(lower, marker) {
			return 0.1
		}
	}
	base := float64(len(summary)) / 2000.0
	if base > 1.0 {
		base = 1.0
	}
	for _, marker := range strongRelevanceMarkers {
		if strings.Contains(lower, marker) {
			base += 0.3
			break
		}
	}
	if base > 1.0 {
		base = 1.0
	}
	return clamp01(0.6*base + 0.4*keywordCoverage(query, summary))
}

// keywordCoverage is the fraction of distinct query terms present in text.
func keywordCoverage(query, text string) float64 {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	total, hits := 0, 0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if seen[term] {
			continue
		}
		seen[term] = true
		total++
		if strings.Contains(lower, term) {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// extractFirstJSON returns the first balanced {...} block in s, or s itself
// when none is found. Models wrap JSON in prose often enough that strict
// decoding alone is not workable.
func extractFirstJSON(s string) string {
	return extractBalanced(s, '{', '}')
}

// extractFirstJSONArray returns the first balanced [...] block in s.
func extractFirstJSONArray(s string) string {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, close rune) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == open {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == close {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}

// versionTokenRE detects version-like identifiers: bare 3-4 digit runs such
// as a build number. Best-effort; anything it misses simply skips the
// date-equivalence check.
var versionTokenRE = regexp.MustCompile(`\b(\d{3,4})\b`)

// versionTokens returns the version-like tokens in s.
func versionTokens(s string) []string {
	return versionTokenRE.FindAllString(s, -1)
}

var monthNames = [...]string{
	1: "january", 2: "february", 3: "march", 4: "april", 5: "may", 6: "june",
	7: "july", 8: "august", 9: "september", 10: "october", 11: "november", 12: "december",
}

// dateEquivalents expands a numeric token into its month-name forms when it
// reads as MMDD (e.g. "0528" -> "may28"). Non-date tokens return nil.
func dateEquivalents(token string) []string {
	if len(token) != 4 {
		return nil
	}
	month := int(token[0]-'0')*10 + int(token[1]-'0')
	day := int(token[2]-'0')*10 + int(token[3]-'0')
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	name := monthNames[month]
	dayStr := token[2:]
	forms := []string{name + dayStr}
	if dayStr[0] == '0' {
		forms = append(forms, name+dayStr[1:])
	}
	return forms
}

var nonAlnumRE = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeVersionText lowercases and strips everything that is not a letter
// or digit, making whitespace and hyphens insignificant for matching.
func normalizeVersionText(s string) string {
	return nonAlnumRE.ReplaceAllString(strings.ToLower(s), "")
}

// versionTokenSatisfied reports whether every version-like token in question
// appears in content, either verbatim or as an equivalent month-name date
// ("0528" matches "May 28"). Questions without version tokens return false:
// the check only augments, never replaces, the model's verdict.
func versionTokenSatisfied(question, content string) bool {
	tokens := versionTokens(question)
	if len(tokens) == 0 || content == "" {
		return false
	}
	normalized := normalizeVersionText(content)
	for _, token := range tokens {
		if strings.Contains(normalized, token) {
			continue
		}
		matched := false
		for _, form := range dateEquivalents(token) {
			if strings.Contains(normalized, form) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// stripVersionTokens removes version-like tokens from a search phrase,
// leaving the base term. Used after repeated search failures.
func stripVersionTokens(s string) string {
	out := versionTokenRE.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(out), " ")
}
