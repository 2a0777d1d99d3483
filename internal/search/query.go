// Package search runs budgeted queries against external sources and pulls
// title/link/snippet triples out of the returned pages.
package search

import (
	"regexp"
	"strings"
	"unicode"
)

var quoteReplacer = strings.NewReplacer(
	`"`, " ", "'", "", "`", "",
	"“", " ", "”", " ", "‘", "", "’", "",
	"«", " ", "»", " ",
	"+", " ",
)

// Clean strips quote characters and "+" tokens and collapses whitespace.
// Clean is idempotent.
func Clean(q string) string {
	return strings.Join(strings.Fields(quoteReplacer.Replace(q)), " ")
}

// Structured is a free-text query split into its parts.
type Structured struct {
	Site         string
	BusinessName string
	Location     string
	Keywords     []string
}

// String reassembles the parts space-joined, without quoting.
func (s Structured) String() string {
	parts := make([]string, 0, 4)
	if s.Site != "" {
		parts = append(parts, "site:"+s.Site)
	}
	for _, p := range []string{s.BusinessName, s.Location, strings.Join(s.Keywords, " ")} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return Clean(strings.Join(parts, " "))
}

type platform struct {
	pattern *regexp.Regexp
	domain  string
}

// platforms are matched in order; multi-word names come first.
var platforms = []platform{
	{regexp.MustCompile(`(?i)\bbetter business bureau\b`), "bbb.org"},
	{regexp.MustCompile(`(?i)\byellow ?pages\b`), "yellowpages.com"},
	{regexp.MustCompile(`(?i)\bangie'?s list\b`), "angi.com"},
	{regexp.MustCompile(`(?i)\bfacebook\b`), "facebook.com"},
	{regexp.MustCompile(`(?i)\blinked ?in\b`), "linkedin.com"},
	{regexp.MustCompile(`(?i)\binstagram\b`), "instagram.com"},
	{regexp.MustCompile(`(?i)\byelp\b`), "yelp.com"},
	{regexp.MustCompile(`(?i)\bbbb\b`), "bbb.org"},
	{regexp.MustCompile(`(?i)\bangi\b`), "angi.com"},
	{regexp.MustCompile(`(?i)\bhouzz\b`), "houzz.com"},
	{regexp.MustCompile(`(?i)\bnextdoor\b`), "nextdoor.com"},
}

var siteToken = regexp.MustCompile(`(?i)\bsite:(\S+)`)

var stateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true, "CT": true, "DE": true,
	"DC": true, "FL": true, "GA": true, "HI": true, "ID": true, "IL": true, "IN": true, "IA": true,
	"KS": true, "KY": true, "LA": true, "ME": true, "MD": true, "MA": true, "MI": true, "MN": true,
	"MS": true, "MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true, "NM": true,
	"NY": true, "NC": true, "ND": true, "OH": true, "OK": true, "OR": true, "PA": true, "RI": true,
	"SC": true, "SD": true, "TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true,
	"WV": true, "WI": true, "WY": true,
}

var (
	// A city of one capitalized word, or two when the first is a common
	// place-name prefix, followed by a state code.
	cityStatePattern = regexp.MustCompile(`\b((?:(?:San|Santa|Los|Las|New|Fort|Saint|St\.?|El|Port|North|South|East|West|Lake|Palm|Sun|Cave|Paradise|Queen|Fountain|Sierra|Bullhead|Lake Havasu)\s+)?[A-Z][a-zA-Z.'-]+),?\s+([A-Z]{2})\b`)
	stateCodePattern = regexp.MustCompile(`\b([A-Z]{2})\b`)
	zipPattern       = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
)

var attributeKeywords = map[string]bool{
	"contact": true, "email": true, "e-mail": true, "phone": true, "website": true,
	"address": true, "owner": true, "license": true, "licence": true, "reviews": true,
	"hours": true, "info": true,
}

// Structure splits a free-text query. A named platform becomes a site:
// scope with the platform name removed; otherwise location is recognized
// by city+state, then a bare state code, then a ZIP, each match consumed
// from the text.
func Structure(q string) Structured {
	var s Structured
	text := q

	if m := siteToken.FindStringSubmatch(text); m != nil {
		s.Site = strings.ToLower(m[1])
		text = siteToken.ReplaceAllString(text, " ")
	} else {
		for _, p := range platforms {
			if p.pattern.MatchString(text) {
				s.Site = p.domain
				text = p.pattern.ReplaceAllString(text, " ")
				break
			}
		}
	}
	text = Clean(text)

	if s.Site == "" {
		var loc []string
		if span, city, state := findCityState(text); span != nil {
			loc = append(loc, city+" "+state)
			text = text[:span[0]] + " " + text[span[1]:]
		} else if span := findStateCode(text); span != nil {
			loc = append(loc, text[span[0]:span[1]])
			text = text[:span[0]] + " " + text[span[1]:]
		}
		if span := zipPattern.FindStringIndex(text); span != nil {
			loc = append(loc, text[span[0]:span[1]])
			text = text[:span[0]] + " " + text[span[1]:]
		}
		s.Location = Clean(strings.Join(loc, " "))
	}

	var name []string
	for _, w := range strings.Fields(text) {
		if attributeKeywords[strings.ToLower(w)] {
			s.Keywords = append(s.Keywords, strings.ToLower(w))
			continue
		}
		name = append(name, w)
	}
	s.BusinessName = strings.Join(name, " ")
	return s
}

func findCityState(text string) ([]int, string, string) {
	for _, m := range cityStatePattern.FindAllStringSubmatchIndex(text, -1) {
		state := text[m[4]:m[5]]
		if stateCodes[state] {
			return []int{m[0], m[1]}, strings.TrimSuffix(text[m[2]:m[3]], ","), state
		}
	}
	return nil, "", ""
}

func findStateCode(text string) []int {
	for _, m := range stateCodePattern.FindAllStringSubmatchIndex(text, -1) {
		if stateCodes[text[m[2]:m[3]]] {
			return []int{m[0], m[1]}
		}
	}
	return nil
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "in": true, "for": true,
	"at": true, "on": true, "to": true, "by": true, "with": true, "&": true,
	"llc": true, "inc": true, "inc.": true, "co": true, "co.": true, "corp": true, "corp.": true,
	"ltd": true, "company": true,
}

// Variants returns the ordered fallback list for a cleaned query: the full
// query, its first five words, its first three words, the query without
// stop words, and the query without numeric tokens. A site: scope is kept
// on every variant. Duplicates and empty variants are dropped.
func Variants(q string) []string {
	q = Clean(q)
	var site string
	var words []string
	for _, w := range strings.Fields(q) {
		if strings.HasPrefix(strings.ToLower(w), "site:") && site == "" {
			site = w
			continue
		}
		words = append(words, w)
	}

	build := func(ws []string) string {
		if len(ws) == 0 {
			return ""
		}
		if site != "" {
			return site + " " + strings.Join(ws, " ")
		}
		return strings.Join(ws, " ")
	}

	candidates := []string{
		build(words),
		build(firstN(words, 5)),
		build(firstN(words, 3)),
		build(filterWords(words, func(w string) bool { return !stopWords[strings.ToLower(w)] })),
		build(filterWords(words, func(w string) bool { return !isNumeric(w) })),
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func firstN(ws []string, n int) []string {
	if len(ws) <= n {
		return ws
	}
	return ws[:n]
}

func filterWords(ws []string, keep func(string) bool) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}

func isNumeric(w string) bool {
	hasDigit := false
	for _, r := range w {
		if unicode.IsDigit(r) {
			hasDigit = true
			continue
		}
		if r != '-' && r != '#' {
			return false
		}
	}
	return hasDigit
}
