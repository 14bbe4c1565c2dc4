// Package extract pulls best-effort field hints (dates, money amounts)
// out of free document text. Results are unvalidated hints: callers
// must present them as such and never treat them as parsed data.
package extract

import (
	"regexp"
	"sort"
	"strings"
)

// Hints are candidate values found in a document, in order of first
// appearance and without duplicates.
type Hints struct {
	Dates   []string `json:"dates,omitempty"`
	Amounts []string `json:"amounts,omitempty"`
}

// Empty reports whether no hints were found.
func (h Hints) Empty() bool {
	return len(h.Dates) == 0 && len(h.Amounts) == 0
}

// Extractor finds hints in text.
type Extractor interface {
	Extract(text string) Hints
}

const months = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b` + months + `\.? \d{1,2},? \d{4}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2} ` + months + `\.? \d{4}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
}

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:CA|US|C)?\$ ?\d{1,3}(?:,\d{3})*(?:\.\d{2})?\b`),
	regexp.MustCompile(`\b\d{1,3}(?:[ \x{00A0}]\d{3})*(?:,\d{2})? ?\$`),
	regexp.MustCompile(`(?i)\b\d{1,3}(?:,\d{3})*(?:\.\d{2})? ?(?:CAD|USD)\b`),
}

// RegexExtractor is the default pattern-based Extractor.
type RegexExtractor struct {
	// MaxPerKind caps each hint list. Zero means 10.
	MaxPerKind int
}

// Extract implements Extractor.
func (e RegexExtractor) Extract(text string) Hints {
	limit := e.MaxPerKind
	if limit <= 0 {
		limit = 10
	}
	return Hints{
		Dates:   findAll(text, datePatterns, limit),
		Amounts: findAll(text, amountPatterns, limit),
	}
}

// findAll returns matches from all patterns ordered by position in
// text, skipping matches that overlap an earlier one.
func findAll(text string, patterns []*regexp.Regexp, limit int) []string {
	type hit struct {
		start, end int
	}
	var hits []hit
	for _, re := range patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{loc[0], loc[1]})
		}
	}

	// Stable so that at equal starts the earlier pattern wins.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	var out []string
	seen := make(map[string]bool)
	lastEnd := -1
	for _, h := range hits {
		if h.start < lastEnd {
			continue
		}
		lastEnd = h.end
		v := strings.TrimSpace(text[h.start:h.end])
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}
