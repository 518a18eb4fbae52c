package main

import (
	"strings"
	"unicode/utf8"
)

// ============================================================================
// Answer Matching
// ============================================================================

// MaxAnswerDistance is the edit distance tolerated between a submitted answer
// and an acceptable one. Uniform regardless of answer length.
const MaxAnswerDistance = 2

// IsAcceptableAnswer reports whether candidate matches any of the acceptable
// answers, case-insensitively, within MaxAnswerDistance edits.
func IsAcceptableAnswer(candidate string, acceptable []string) bool {
	c := normalizeAnswer(candidate)
	if c == "" {
		return false
	}
	for _, a := range acceptable {
		if LevenshteinDistance(c, normalizeAnswer(a)) <= MaxAnswerDistance {
			return true
		}
	}
	return false
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// LevenshteinDistance computes the edit distance between a and b using the
// two-row form of the standard dynamic program.
func LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return utf8.RuneCountInString(b)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = Min(Min(curr[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
