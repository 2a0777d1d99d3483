// Package discovery executes a discovery strategy for one entity: it
// scrapes the official website, runs search queries, fetches result pages,
// and collects the raw email strings found along the way.
package discovery

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/scrape"
	"github.com/sells-group/discovery-cli/internal/search"
)

// MaxQueries caps how many strategy queries run per entity.
const MaxQueries = 5

// Searcher runs one budgeted search for an entity.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int, entityKey string) (*search.Response, error)
}

// Config tunes the executor.
type Config struct {
	ResultsPerQuery int
	MaxConcurrent   int
	// ContactLinks is how many same-site contact/about links to follow
	// from the official homepage.
	ContactLinks int
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{ResultsPerQuery: 10, MaxConcurrent: 4, ContactLinks: 3}
}

// Outcome is what one execution gathered.
type Outcome struct {
	Emails          []model.RawEmail `json:"emails"`
	SearchResults   []search.Result  `json:"search_results"`
	QueriesRun      int              `json:"queries_run"`
	VariantsTried   int              `json:"variants_tried"`
	PagesVisited    int              `json:"pages_visited"`
	PagesFailed     int              `json:"pages_failed"`
	SourcesUsed     []string         `json:"sources_used"`
	BudgetExhausted bool             `json:"budget_exhausted"`
}

// Addresses returns the distinct email strings.
func (o *Outcome) Addresses() []string {
	out := make([]string, len(o.Emails))
	for i, e := range o.Emails {
		out[i] = e.Email
	}
	return out
}

// Executor runs strategies for one entity. The searcher and fetcher are
// expected to be scoped to the entity's budget and domain policy.
type Executor struct {
	searcher Searcher
	fetcher  scrape.Fetcher
	policy   *scrape.DomainPolicy
	cfg      Config
}

// NewExecutor creates an Executor. searcher may be nil when no search
// backend is configured.
func NewExecutor(searcher Searcher, fetcher scrape.Fetcher, policy *scrape.DomainPolicy, cfg Config) *Executor {
	d := DefaultConfig()
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = d.ResultsPerQuery
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = d.MaxConcurrent
	}
	if cfg.ContactLinks <= 0 {
		cfg.ContactLinks = d.ContactLinks
	}
	if policy == nil {
		policy = scrape.NewDomainPolicy(nil, nil)
	}
	return &Executor{searcher: searcher, fetcher: fetcher, policy: policy, cfg: cfg}
}

// collector accumulates sightings, merging exact duplicates.
type collector struct {
	order   []string
	byEmail map[string]*model.RawEmail
	sources map[string]bool
	policy  *scrape.DomainPolicy
}

func newCollector(policy *scrape.DomainPolicy) *collector {
	return &collector{byEmail: make(map[string]*model.RawEmail), sources: make(map[string]bool), policy: policy}
}

func (c *collector) add(emails []string, cat model.SourceCategory, sourceURL string) {
	for _, e := range emails {
		if c.policy.Denied(model.EmailDomain(e)) {
			continue
		}
		c.sources[string(cat)] = true
		raw, ok := c.byEmail[e]
		if !ok {
			raw = &model.RawEmail{Email: e}
			c.byEmail[e] = raw
			c.order = append(c.order, e)
		}
		dup := false
		for _, s := range raw.Sightings {
			if s.URL == sourceURL && s.Category == cat {
				dup = true
				break
			}
		}
		if !dup {
			raw.Sightings = append(raw.Sightings, model.Sighting{Category: cat, URL: sourceURL})
		}
	}
}

func (c *collector) emails() []model.RawEmail {
	out := make([]model.RawEmail, 0, len(c.order))
	for _, e := range c.order {
		out = append(out, *c.byEmail[e])
	}
	return out
}

// Execute runs strategy for entity. Search failures and budget exhaustion
// degrade the outcome; only cancellation is returned as an error, together
// with whatever was gathered.
func (x *Executor) Execute(ctx context.Context, strategy *model.DiscoveryStrategy, entity model.Entity) (*Outcome, error) {
	log := zap.L().With(
		zap.String("registry_number", entity.RegistryNumber),
		zap.String("entity", entity.DisplayName()),
	)
	out := &Outcome{}
	col := newCollector(x.policy)
	fetched := make(map[string]bool)

	defer func() {
		out.Emails = col.emails()
		for s := range col.sources {
			out.SourcesUsed = append(out.SourcesUsed, s)
		}
		sort.Strings(out.SourcesUsed)
	}()

	if strategy.Approach.ScrapesWebsite() && entity.HasWebsite() {
		x.scrapeWebsite(ctx, entity.Website, col, fetched, out)
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "discovery: cancelled during website scrape")
		}
	}

	if !strategy.Approach.Searches() || x.searcher == nil {
		return out, nil
	}

	results, err := x.runQueries(ctx, strategy.SearchQueries, entity, col, out, log)
	if err != nil {
		return out, err
	}
	out.SearchResults = results

	urls, cats := x.pickURLs(results, strategy, entity, fetched)
	if len(urls) == 0 {
		return out, nil
	}
	pages := scrape.FetchAll(ctx, x.fetcher, urls, x.cfg.MaxConcurrent)
	out.PagesVisited += len(pages)
	out.PagesFailed += len(urls) - len(pages)
	for _, p := range pages {
		cat, ok := cats[p.URL]
		if !ok {
			cat = search.Categorize(p.URL)
		}
		col.add(ExtractEmails(p), cat, p.URL)
	}
	if err := ctx.Err(); err != nil {
		return out, eris.Wrap(err, "discovery: cancelled during page fetch")
	}

	log.Debug("discovery: executed",
		zap.String("approach", string(strategy.Approach)),
		zap.Int("queries", out.QueriesRun),
		zap.Int("pages", out.PagesVisited),
		zap.Int("emails", len(col.order)),
	)
	return out, nil
}

func (x *Executor) scrapeWebsite(ctx context.Context, website string, col *collector, fetched map[string]bool, out *Outcome) {
	home := website
	if !strings.Contains(home, "://") {
		home = "https://" + home
	}
	fetched[home] = true
	page, err := x.fetcher.Fetch(ctx, home)
	if err != nil {
		out.PagesFailed++
		zap.L().Debug("discovery: website fetch failed", zap.String("url", home), zap.Error(err))
		return
	}
	out.PagesVisited++
	col.add(ExtractEmails(*page), model.SourceOfficialWebsite, page.URL)

	links := ContactLinks(*page, x.cfg.ContactLinks)
	for _, l := range links {
		fetched[l] = true
	}
	pages := scrape.FetchAll(ctx, x.fetcher, links, x.cfg.MaxConcurrent)
	out.PagesVisited += len(pages)
	out.PagesFailed += len(links) - len(pages)
	for _, p := range pages {
		col.add(ExtractEmails(p), model.SourceOfficialWebsite, p.URL)
	}
}

func (x *Executor) runQueries(ctx context.Context, queries []string, entity model.Entity, col *collector, out *Outcome, log *zap.Logger) ([]search.Result, error) {
	if len(queries) > MaxQueries {
		queries = queries[:MaxQueries]
	}

	var results []search.Result
	seen := make(map[string]bool)
	for _, q := range queries {
		resp, err := x.searcher.Search(ctx, q, x.cfg.ResultsPerQuery, entity.RegistryNumber)
		if resp != nil {
			out.VariantsTried += resp.Attempts
			if resp.Attempts > 0 {
				out.QueriesRun++
			}
			for _, r := range resp.Results {
				if seen[r.URL] {
					continue
				}
				seen[r.URL] = true
				results = append(results, r)
				col.add(ExtractEmailsFromText(r.Snippet), r.Category, r.URL)
			}
		}

		switch {
		case err == nil:
		case model.IsBudgetExceeded(err):
			out.BudgetExhausted = true
			log.Info("discovery: search budget exhausted", zap.Error(err))
			return results, nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return results, eris.Wrap(err, "discovery: cancelled during search")
			}
			log.Warn("discovery: query timed out", zap.String("query", q), zap.Error(err))
		default:
			log.Warn("discovery: query failed", zap.String("query", q), zap.Error(err))
		}
	}
	return results, nil
}

// pickURLs orders result URLs by the strategy's source priority, then by
// how well the result names the entity, and caps them at MaxURLs.
func (x *Executor) pickURLs(results []search.Result, strategy *model.DiscoveryStrategy, entity model.Entity, fetched map[string]bool) ([]string, map[string]model.SourceCategory) {
	rank := make(map[model.SourceCategory]int, len(strategy.SourcePriority))
	for i, c := range strategy.SourcePriority {
		rank[c] = i
	}
	rankOf := func(c model.SourceCategory) int {
		if r, ok := rank[c]; ok {
			return r
		}
		return len(rank)
	}

	ranked := search.RankByName(results, entity.DisplayName())
	sort.SliceStable(ranked, func(i, j int) bool {
		return rankOf(ranked[i].Category) < rankOf(ranked[j].Category)
	})

	limit := strategy.MaxURLs
	if limit <= 0 {
		limit = len(ranked)
	}
	var urls []string
	cats := make(map[string]model.SourceCategory)
	for _, r := range ranked {
		if len(urls) >= limit {
			break
		}
		if fetched[r.URL] || !x.policy.AllowedURL(r.URL) {
			continue
		}
		fetched[r.URL] = true
		cat := r.Category
		if entity.HasWebsite() && scrape.SameSite(scrape.HostOf(r.URL), scrape.HostOf(entity.Website)) {
			cat = model.SourceOfficialWebsite
		}
		urls = append(urls, r.URL)
		cats[r.URL] = cat
	}
	return urls, cats
}
