package matcher

import (
	"math"
	"regexp"
	"strings"
)

// tokenPattern matches runs of two or more word characters. Single
// characters never become terms.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Tokenize lowercases text and splits it into terms
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Similarity returns the TF-IDF cosine similarity of a and b, computed over
// the two-document corpus {a, b}. The result is in [0, 1]. Empty input, or
// input without any term, yields 0.
func Similarity(a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}

	tfA := termFrequencies(Tokenize(a))
	tfB := termFrequencies(Tokenize(b))
	if len(tfA) == 0 || len(tfB) == 0 {
		return 0
	}

	// Smoothed idf with n = 2 documents: ln(3 / (1 + df)) + 1
	sharedIDF := 1.0
	uniqueIDF := math.Log(3.0/2.0) + 1

	idf := func(term string) float64 {
		_, inA := tfA[term]
		_, inB := tfB[term]
		if inA && inB {
			return sharedIDF
		}
		return uniqueIDF
	}

	var dot, normA, normB float64
	for term, count := range tfA {
		w := float64(count) * idf(term)
		normA += w * w
		if other, ok := tfB[term]; ok {
			dot += w * float64(other) * sharedIDF
		}
	}
	for term, count := range tfB {
		w := float64(count) * idf(term)
		normB += w * w
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func termFrequencies(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return counts
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
