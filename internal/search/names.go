package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// suffixPattern matches common business entity suffixes.
var suffixPattern = regexp.MustCompile(`(?i),?\s*\b(inc\.?|llc\.?|ltd\.?|co\.?|corp\.?|corporation|company|llp|lp|pllc|pc|p\.?c\.?)$`)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName folds accents, strips entity suffixes and punctuation, and
// lowercases the name.
func NormalizeName(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	folded = strings.TrimSpace(folded)
	for {
		stripped := strings.TrimSpace(suffixPattern.ReplaceAllString(folded, ""))
		if stripped == folded || stripped == "" {
			break
		}
		folded = stripped
	}
	folded = strings.ReplaceAll(folded, "&", " and ")
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(folded), " "))
}

// NameMatches reports whether text contains the normalized business name.
func NameMatches(text, name string) bool {
	if text == "" || name == "" {
		return false
	}
	n := NormalizeName(name)
	if n == "" {
		return false
	}
	return strings.Contains(NormalizeName(text), n)
}

// NameSimilarity returns the share of the name's tokens present in text,
// in [0,1].
func NameSimilarity(text, name string) float64 {
	tokens := strings.Fields(NormalizeName(name))
	if len(tokens) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, t := range strings.Fields(NormalizeName(text)) {
		have[t] = true
	}
	hits := 0
	for _, t := range tokens {
		if have[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// RankByName orders results so those mentioning name in title or snippet
// come first. The sort is stable.
func RankByName(results []Result, name string) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	score := func(r Result) float64 {
		if NameMatches(r.Title, name) {
			return 2
		}
		return NameSimilarity(r.Title+" "+r.Snippet, name)
	}
	sort.SliceStable(out, func(i, j int) bool { return score(out[i]) > score(out[j]) })
	return out
}
