package tools

import (
	"strings"
	"unicode"
)

// MatchRule names the resolution rule that produced a match.
type MatchRule string

const (
	RuleExact       MatchRule = "exact"
	RuleSuffix      MatchRule = "suffix_stripped"
	RulePrefix      MatchRule = "prefix"
	RuleAllWords    MatchRule = "all_words"
	RuleWordOverlap MatchRule = "word_overlap"
)

// Rule confidences. Word overlap scales up to overlapWeight.
const (
	confidenceExact    = 100
	confidenceSuffix   = 95
	confidencePrefix   = 90
	confidenceAllWords = 80
	overlapWeight      = 70
)

// NameMatch is a resolved candidate.
type NameMatch struct {
	Index      int       `json:"-"`
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	Rule       MatchRule `json:"rule"`
}

// legalSuffixes are trailing words dropped before the suffix rule and
// word comparisons.
var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"ltd": true, "limited": true, "llc": true, "llp": true, "lp": true,
	"co": true, "company": true, "plc": true, "gmbh": true, "ltée": true,
	"ltee": true, "ulc": true,
}

// MatchName resolves query against candidates. Rules are tried in
// strict priority order (exact, suffix-stripped, prefix, all words,
// word overlap) across all candidates; the first rule with any match
// wins and ties go to the earliest candidate.
func MatchName(query string, candidates []string) (NameMatch, bool) {
	q := normalize(query)
	if q == "" || len(candidates) == 0 {
		return NameMatch{}, false
	}
	norm := make([]string, len(candidates))
	for i, c := range candidates {
		norm[i] = normalize(c)
	}

	found := func(i int, conf float64, rule MatchRule) (NameMatch, bool) {
		return NameMatch{Index: i, Name: candidates[i], Confidence: conf, Rule: rule}, true
	}

	for i, c := range norm {
		if c == q {
			return found(i, confidenceExact, RuleExact)
		}
	}

	qStripped := stripSuffixes(q)
	for i, c := range norm {
		if stripSuffixes(c) == qStripped {
			return found(i, confidenceSuffix, RuleSuffix)
		}
	}

	for i, c := range norm {
		if strings.HasPrefix(c, q) {
			return found(i, confidencePrefix, RulePrefix)
		}
	}

	qWords := words(qStripped)
	if len(qWords) == 0 {
		return NameMatch{}, false
	}
	candWords := make([]map[string]bool, len(norm))
	for i, c := range norm {
		set := make(map[string]bool)
		for _, w := range words(c) {
			set[w] = true
		}
		candWords[i] = set
	}

	for i, set := range candWords {
		if containsAll(set, qWords) {
			return found(i, confidenceAllWords, RuleAllWords)
		}
	}

	best, bestScore := -1, 0.0
	for i, set := range candWords {
		n := 0
		for _, w := range qWords {
			if set[w] {
				n++
			}
		}
		score := float64(n) / float64(len(qWords)) * overlapWeight
		if n > 0 && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return found(best, bestScore, RuleWordOverlap)
	}
	return NameMatch{}, false
}

// normalize lowercases s and collapses runs of whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// words splits s on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// stripSuffixes removes trailing legal-form words and the punctuation
// around them. A name made only of suffix words is returned unchanged.
func stripSuffixes(s string) string {
	ws := strings.Fields(s)
	end := len(ws)
	for end > 1 {
		w := strings.Trim(ws[end-1], ".,()")
		if w != "" && !legalSuffixes[w] {
			break
		}
		end--
	}
	out := strings.Join(ws[:end], " ")
	return strings.TrimRight(out, " ,.")
}

func containsAll(set map[string]bool, ws []string) bool {
	for _, w := range ws {
		if !set[w] {
			return false
		}
	}
	return true
}
