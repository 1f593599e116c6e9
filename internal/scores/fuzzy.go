package scores

import (
	"strings"
	"unicode"
)

// normalizeMatchup lowercases a matchup string and strips the "vs"/"vs."/
// "at" connectives, whitespace, and all non-alphanumerics, leaving only the
// characters of the team names.
func normalizeMatchup(s string) string {
	s = strings.ToLower(s)
	for _, sep := range []string{" vs. ", " vs ", " at "} {
		s = strings.ReplaceAll(s, sep, " ")
	}

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// overlapRatio is a coarse containment heuristic, not an edit distance: the
// count of the shorter string's characters found anywhere in the longer
// string (with multiplicity), divided by the shorter string's length.
// Ordering-independent, so "lions at packers" still covers
// "green bay packers at detroit lions".
func overlapRatio(a, b string) float64 {
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		return 0
	}

	pool := make(map[rune]int)
	for _, r := range longer {
		pool[r]++
	}

	found := 0
	for _, r := range shorter {
		if pool[r] > 0 {
			pool[r]--
			found++
		}
	}
	return float64(found) / float64(len(shorter))
}

// MatchupsMatch reports whether two matchup name strings describe the same
// game, by normalized character overlap against the given threshold.
func MatchupsMatch(a, b string, threshold float64) bool {
	return overlapRatio(normalizeMatchup(a), normalizeMatchup(b)) >= threshold
}
