package search

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/scrape"
)

// Result is one title/link/snippet triple pulled out of a results page.
type Result struct {
	Title    string               `json:"title"`
	URL      string               `json:"url"`
	Snippet  string               `json:"snippet"`
	Category model.SourceCategory `json:"category"`
	Backend  string               `json:"backend"`
}

// PageExtractor pulls results out of one kind of fetched page.
type PageExtractor interface {
	Name() string
	Matches(pageURL string) bool
	Extract(page scrape.Page) []Result
}

// ExtractorChain tries each matching extractor in order and returns the
// first non-empty result set. The generic outbound-link extractor runs last
// when nothing source-specific matched.
type ExtractorChain struct {
	extractors []PageExtractor
	fallback   PageExtractor
}

// NewExtractorChain builds a chain over the given extractors.
func NewExtractorChain(extractors ...PageExtractor) *ExtractorChain {
	return &ExtractorChain{extractors: extractors, fallback: genericExtractor{}}
}

// DefaultExtractors returns the built-in extractors, most specific first.
func DefaultExtractors() *ExtractorChain {
	return NewExtractorChain(
		duckDuckGoExtractor{},
		bingExtractor{},
		registryExtractor{},
		socialExtractor{},
		directoryExtractor{},
		markdownExtractor{},
	)
}

// Extract runs the chain over page.
func (c *ExtractorChain) Extract(page scrape.Page) []Result {
	for _, e := range c.extractors {
		if !e.Matches(page.URL) {
			continue
		}
		if results := e.Extract(page); len(results) > 0 {
			return dedupe(results)
		}
	}
	return dedupe(c.fallback.Extract(page))
}

// Categorize assigns a source category to a result URL by host.
func Categorize(rawURL string) model.SourceCategory {
	host := scrape.HostOf(rawURL)
	switch {
	case host == "":
		return model.SourceWebSearch
	case hostIn(host, socialHosts):
		return model.SourceSocial
	case hostIn(host, directoryHosts):
		return model.SourceDirectory
	case isRegistryHost(host):
		return model.SourceRegistry
	default:
		return model.SourceWebSearch
	}
}

var socialHosts = []string{
	"facebook.com", "linkedin.com", "instagram.com", "twitter.com", "x.com", "nextdoor.com",
}

var directoryHosts = []string{
	"yelp.com", "bbb.org", "angi.com", "angieslist.com", "houzz.com", "yellowpages.com",
	"thumbtack.com", "homeadvisor.com", "manta.com", "buildzoom.com", "porch.com",
}

func hostIn(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isRegistryHost(host string) bool {
	return strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".us") ||
		strings.HasPrefix(host, "roc.") || strings.Contains(host, ".state.")
}

func parse(page scrape.Page) *goquery.Document {
	if page.HTML == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil
	}
	return doc
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return ""
		}
		u = b.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func newResult(title, link, snippet, backend string) Result {
	return Result{
		Title:    squash(title),
		URL:      link,
		Snippet:  squash(snippet),
		Category: Categorize(link),
		Backend:  backend,
	}
}

func dedupe(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
	}
	return out
}

type duckDuckGoExtractor struct{}

func (duckDuckGoExtractor) Name() string { return "duckduckgo" }

func (duckDuckGoExtractor) Matches(pageURL string) bool {
	return strings.Contains(scrape.HostOf(pageURL), "duckduckgo.com")
}

func (duckDuckGoExtractor) Extract(page scrape.Page) []Result {
	doc := parse(page)
	if doc == nil {
		return nil
	}
	var out []Result
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("a.result__a").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link := unwrapDuckDuckGo(resolve(page.URL, href))
		if link == "" {
			return
		}
		out = append(out, newResult(a.Text(), link, s.Find(".result__snippet").Text(), "duckduckgo"))
	})
	return out
}

// unwrapDuckDuckGo returns the target of a /l/?uddg= redirect link.
func unwrapDuckDuckGo(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return link
}

type bingExtractor struct{}

func (bingExtractor) Name() string { return "bing" }

func (bingExtractor) Matches(pageURL string) bool {
	return strings.Contains(scrape.HostOf(pageURL), "bing.com")
}

func (bingExtractor) Extract(page scrape.Page) []Result {
	doc := parse(page)
	if doc == nil {
		return nil
	}
	var out []Result
	doc.Find("li.b_algo").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("h2 a").First()
		link := resolve(page.URL, a.AttrOr("href", ""))
		if link == "" {
			return
		}
		out = append(out, newResult(a.Text(), link, s.Find(".b_caption p").First().Text(), "bing"))
	})
	return out
}

// Registry portals list matches in result tables or link lists; the
// selectors are tried in order until one yields rows.
var registrySelectors = []string{
	"table.search-results tr a",
	"#results a",
	".search-results a",
	"table tr td a",
}

type registryExtractor struct{}

func (registryExtractor) Name() string { return "registry" }

func (registryExtractor) Matches(pageURL string) bool {
	return isRegistryHost(scrape.HostOf(pageURL))
}

func (registryExtractor) Extract(page scrape.Page) []Result {
	doc := parse(page)
	if doc == nil {
		return nil
	}
	for _, sel := range registrySelectors {
		var out []Result
		doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
			link := resolve(page.URL, a.AttrOr("href", ""))
			title := squash(a.Text())
			if link == "" || len(title) < 3 {
				return
			}
			row := a.Closest("tr")
			snippet := ""
			if row.Length() > 0 {
				snippet = row.Text()
			}
			r := newResult(title, link, snippet, "registry")
			r.Category = model.SourceRegistry
			out = append(out, r)
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

type socialExtractor struct{}

func (socialExtractor) Name() string { return "social" }

func (socialExtractor) Matches(pageURL string) bool {
	return hostIn(scrape.HostOf(pageURL), socialHosts)
}

// Extract reads the Open Graph card of a profile page, then any profile
// links embedded in it.
func (socialExtractor) Extract(page scrape.Page) []Result {
	doc := parse(page)
	if doc == nil {
		return nil
	}
	var out []Result
	title := doc.Find(`meta[property="og:title"]`).AttrOr("content", "")
	link := doc.Find(`meta[property="og:url"]`).AttrOr("content", "")
	if link == "" {
		link = page.URL
	}
	if title != "" {
		desc := doc.Find(`meta[property="og:description"]`).AttrOr("content", "")
		out = append(out, newResult(title, link, desc, "social"))
	}
	doc.Find(`a[href*="linkedin.com/company"], a[href*="facebook.com/"]`).Each(func(_ int, a *goquery.Selection) {
		if l := resolve(page.URL, a.AttrOr("href", "")); l != "" && len(squash(a.Text())) >= 3 {
			out = append(out, newResult(a.Text(), l, "", "social"))
		}
	})
	return out
}

var directorySelectors = []string{
	`a[href*="/biz/"]`,
	`a[href*="/profile/"]`,
	`a.business-name`,
	`[itemtype*="LocalBusiness"] a[itemprop="url"]`,
}

type directoryExtractor struct{}

func (directoryExtractor) Name() string { return "directory" }

func (directoryExtractor) Matches(pageURL string) bool {
	return hostIn(scrape.HostOf(pageURL), directoryHosts)
}

func (directoryExtractor) Extract(page scrape.Page) []Result {
	doc := parse(page)
	if doc == nil {
		return nil
	}
	for _, sel := range directorySelectors {
		var out []Result
		doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
			link := resolve(page.URL, a.AttrOr("href", ""))
			if link == "" || len(squash(a.Text())) < 3 {
				return
			}
			out = append(out, newResult(a.Text(), link, a.Parent().Text(), "directory"))
		})
		if len(out) > 0 {
			return out
		}
	}
	// A directory listing page is itself a result.
	if title := doc.Find("title").First().Text(); title != "" {
		desc := doc.Find(`meta[name="description"]`).AttrOr("content", "")
		return []Result{newResult(title, page.URL, desc, "directory")}
	}
	return nil
}

var markdownLink = regexp.MustCompile(`\[([^\]]{3,})\]\((https?://[^)\s]+)\)`)

// markdownExtractor handles rendered-text pages (no HTML) such as reader
// output, where links appear as [text](url).
type markdownExtractor struct{}

func (markdownExtractor) Name() string { return "markdown" }

func (markdownExtractor) Matches(string) bool { return true }

func (markdownExtractor) Extract(page scrape.Page) []Result {
	if page.HTML != "" {
		return nil
	}
	var out []Result
	for _, m := range markdownLink.FindAllStringSubmatch(page.Text, -1) {
		if scrape.SameSite(scrape.HostOf(m[2]), scrape.HostOf(page.URL)) {
			continue
		}
		out = append(out, newResult(m[1], m[2], "", "markdown"))
	}
	return out
}

type genericExtractor struct{}

func (genericExtractor) Name() string { return "generic" }

func (genericExtractor) Matches(string) bool { return true }

// Extract returns every outbound link with non-trivial anchor text.
func (genericExtractor) Extract(page scrape.Page) []Result {
	if page.HTML == "" {
		return markdownExtractor{}.Extract(page)
	}
	doc := parse(page)
	if doc == nil {
		return nil
	}
	pageHost := scrape.HostOf(page.URL)
	var out []Result
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		link := resolve(page.URL, a.AttrOr("href", ""))
		text := squash(a.Text())
		if link == "" || len(text) < 4 {
			return
		}
		if pageHost != "" && scrape.SameSite(scrape.HostOf(link), pageHost) {
			return
		}
		out = append(out, newResult(text, link, "", "generic"))
	})
	return out
}
