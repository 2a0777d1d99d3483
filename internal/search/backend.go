package search

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/resilience"
	"github.com/sells-group/discovery-cli/internal/scrape"
	"github.com/sells-group/discovery-cli/pkg/jina"
)

// QueryPlaceholder marks where the escaped query goes in a results-page
// URL template.
const QueryPlaceholder = "{query}"

// maxSnippet caps the snippet kept per structured search result.
const maxSnippet = 500

// Backend runs one query against one external source.
type Backend interface {
	Name() string
	Query(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// PageBackend fetches a results page built from a URL template and pulls
// results out of it with an extractor chain.
type PageBackend struct {
	name       string
	template   string
	fetcher    scrape.Fetcher
	extractors *ExtractorChain
}

// NewPageBackend creates a backend for a results-page URL template such
// as "https://html.duckduckgo.com/html/?q={query}".
func NewPageBackend(name, template string, fetcher scrape.Fetcher, extractors *ExtractorChain) *PageBackend {
	if extractors == nil {
		extractors = DefaultExtractors()
	}
	return &PageBackend{name: name, template: template, fetcher: fetcher, extractors: extractors}
}

// Name implements Backend.
func (b *PageBackend) Name() string { return b.name }

// Query implements Backend.
func (b *PageBackend) Query(ctx context.Context, query string, maxResults int) ([]Result, error) {
	target := ExpandTemplate(b.template, query)
	page, err := b.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, eris.Wrapf(err, "search: %s results page", b.name)
	}
	results := b.extractors.Extract(*page)
	for i := range results {
		results[i].Backend = b.name
	}
	return truncate(results, maxResults), nil
}

// ExpandTemplate substitutes the escaped query into template. A template
// without a placeholder gets a q parameter appended.
func ExpandTemplate(template, query string) string {
	escaped := url.QueryEscape(query)
	if strings.Contains(template, QueryPlaceholder) {
		return strings.ReplaceAll(template, QueryPlaceholder, escaped)
	}
	sep := "?"
	if strings.Contains(template, "?") {
		sep = "&"
	}
	return template + sep + "q=" + escaped
}

// JinaBackend runs queries through the Jina search API.
type JinaBackend struct {
	client jina.Client
}

// NewJinaBackend wraps a Jina client as a search backend.
func NewJinaBackend(client jina.Client) *JinaBackend {
	return &JinaBackend{client: client}
}

// Name implements Backend.
func (b *JinaBackend) Name() string { return "jina" }

// Query implements Backend. A site: scope is sent as a site filter rather
// than in the query text.
func (b *JinaBackend) Query(ctx context.Context, query string, maxResults int) ([]Result, error) {
	opts := []jina.SearchOption{jina.WithCount(maxResults)}
	if m := siteToken.FindStringSubmatch(query); m != nil {
		opts = append(opts, jina.WithSiteFilter(m[1]))
		query = Clean(siteToken.ReplaceAllString(query, " "))
	}

	resp, err := b.client.Search(ctx, query, opts...)
	if err != nil {
		return nil, resilience.NewFetchError("jina", query, err, jina.StatusCode(err))
	}

	results := make([]Result, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL == "" {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		snippet = model.Truncate(snippet, maxSnippet)
		results = append(results, newResult(r.Title, r.URL, snippet, "jina"))
	}
	return truncate(dedupe(results), maxResults), nil
}

func truncate(results []Result, n int) []Result {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}
