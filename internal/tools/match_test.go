package tools

import "testing"

func TestMatchName(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		candidates []string
		wantName   string
		wantConf   float64
		wantRule   MatchRule
		wantFound  bool
	}{
		{
			name:       "exact full name",
			query:      "Seagate Mass Timber Corporation",
			candidates: []string{"Seagate Mass Timber Corporation"},
			wantName:   "Seagate Mass Timber Corporation", wantConf: 100, wantRule: RuleExact, wantFound: true,
		},
		{
			name:       "prefix",
			query:      "Seagate",
			candidates: []string{"Seagate Mass Timber Corporation"},
			wantName:   "Seagate Mass Timber Corporation", wantConf: 90, wantRule: RulePrefix, wantFound: true,
		},
		{
			name:       "exact is case insensitive",
			query:      "  acme   LTD ",
			candidates: []string{"Acme Ltd"},
			wantName:   "Acme Ltd", wantConf: 100, wantRule: RuleExact, wantFound: true,
		},
		{
			name:       "suffix stripped",
			query:      "Acme Inc.",
			candidates: []string{"Acme Ltd."},
			wantName:   "Acme Ltd.", wantConf: 95, wantRule: RuleSuffix, wantFound: true,
		},
		{
			name:       "suffix stripped from candidate only",
			query:      "Northwind Foods",
			candidates: []string{"Northwind Foods Corporation"},
			wantName:   "Northwind Foods Corporation", wantConf: 95, wantRule: RuleSuffix, wantFound: true,
		},
		{
			name:       "all words",
			query:      "timber seagate",
			candidates: []string{"Seagate Mass Timber Corporation"},
			wantName:   "Seagate Mass Timber Corporation", wantConf: 80, wantRule: RuleAllWords, wantFound: true,
		},
		{
			name:       "word overlap",
			query:      "Pacific Timber Works",
			candidates: []string{"Acme Ltd", "Seagate Mass Timber Corporation", "Pacific Works Co-op"},
			wantName:   "Pacific Works Co-op", wantConf: float64(2) / 3 * 70, wantRule: RuleWordOverlap, wantFound: true,
		},
		{
			name:       "no match",
			query:      "Globex",
			candidates: []string{"Acme Ltd", "Initech"},
		},
		{
			name:       "empty query",
			query:      "   ",
			candidates: []string{"Acme Ltd"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchName(tt.query, tt.candidates)
			if ok != tt.wantFound {
				t.Fatalf("MatchName(%q) found = %v, want %v (%+v)", tt.query, ok, tt.wantFound, got)
			}
			if !ok {
				return
			}
			if got.Name != tt.wantName || got.Rule != tt.wantRule {
				t.Errorf("MatchName(%q) = %s via %s, want %s via %s", tt.query, got.Name, got.Rule, tt.wantName, tt.wantRule)
			}
			if diff := got.Confidence - tt.wantConf; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestMatchName_RulePriorityIgnoresOrder(t *testing.T) {
	candidates := []string{
		"Seagate Timber Mass",             // all words
		"Seagate Mass Holdings",           // prefix
		"Seagate Mass Inc",                // suffix stripped
		"seagate mass",                    // exact
		"Mass Timber of Seagate Province", // all words
	}
	query := "Seagate Mass"

	// Rotate so the exact match appears at every position.
	for shift := range candidates {
		rotated := append(append([]string{}, candidates[shift:]...), candidates[:shift]...)
		got, ok := MatchName(query, rotated)
		if !ok || got.Rule != RuleExact || got.Name != "seagate mass" {
			t.Errorf("shift %d: got %+v, want exact match", shift, got)
		}
	}

	withoutExact := candidates[:3]
	if got, _ := MatchName(query, withoutExact); got.Rule != RuleSuffix {
		t.Errorf("without exact: rule = %s, want %s", got.Rule, RuleSuffix)
	}
	if got, _ := MatchName(query, candidates[:2]); got.Rule != RulePrefix {
		t.Errorf("without suffix: rule = %s, want %s", got.Rule, RulePrefix)
	}
	if got, _ := MatchName(query, candidates[:1]); got.Rule != RuleAllWords {
		t.Errorf("without prefix: rule = %s, want %s", got.Rule, RuleAllWords)
	}
}

func TestMatchName_TiesGoToFirstCandidate(t *testing.T) {
	got, ok := MatchName("Acme", []string{"Acme Robotics", "Acme Foods"})
	if !ok || got.Name != "Acme Robotics" || got.Index != 0 {
		t.Errorf("MatchName = %+v, want first candidate", got)
	}

	got, ok = MatchName("north star", []string{"Star Bakery", "North Mills"})
	if !ok || got.Name != "Star Bakery" || got.Rule != RuleWordOverlap {
		t.Errorf("overlap tie = %+v, want first candidate", got)
	}
}

func TestStripSuffixes(t *testing.T) {
	tests := map[string]string{
		"acme, inc.":               "acme",
		"acme holdings co. ltd.":   "acme holdings",
		"ltd":                      "ltd",
		"seagate mass timber corp": "seagate mass timber",
		"les aliments québec ltée": "les aliments québec",
		"northwind":                "northwind",
	}
	for in, want := range tests {
		if got := stripSuffixes(in); got != want {
			t.Errorf("stripSuffixes(%q) = %q, want %q", in, got, want)
		}
	}
}
