package intent

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// matchMaxBits mirrors the bitap limit in diffmatchpatch; patterns longer
// than this cannot be matched approximately and fall back to substring tests.
const matchMaxBits = 32

// fuzzyScore rates how well pattern occurs somewhere inside text, in [0,1].
// Exact substring containment scores highest; otherwise a bitap search is
// run at increasing error tolerances and the first tolerance that locates
// the pattern determines the score.
func fuzzyScore(text, pattern string) float64 {
	text = strings.ToLower(text)
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" || text == "" {
		return 0
	}
	if strings.Contains(text, pattern) {
		if len([]rune(pattern)) <= 2 {
			// Two-letter aliases match too much by accident.
			return 0.65
		}
		return 0.9
	}
	if len(pattern) > matchMaxBits || len(pattern) > len(text) {
		return 0
	}

	dmp := diffmatchpatch.New()
	dmp.MatchDistance = 1000
	for _, tolerance := range []float64{0.1, 0.2, 0.3, 0.4} {
		dmp.MatchThreshold = tolerance
		if loc := dmp.MatchMain(text, pattern, 0); loc >= 0 {
			return 0.85 - tolerance
		}
	}
	return 0
}

// bestAlias returns the alias key whose phrase matches the text best, with
// the score. Keys below minScore are discarded.
func bestAlias(text string, aliases map[string]string, minScore float64) (string, float64) {
	bestKey := ""
	bestScore := 0.0
	for phrase, key := range aliases {
		score := fuzzyScore(text, phrase)
		if score > bestScore {
			bestScore = score
			bestKey = key
		}
	}
	if bestScore < minScore {
		return "", 0
	}
	return bestKey, bestScore
}
