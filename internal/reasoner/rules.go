package reasoner

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/scrape"
	"github.com/sells-group/discovery-cli/internal/search"
)

// Default URL allowances for rule-based strategies.
const (
	RulesWebsiteMaxURLs = 10
	RulesSearchMaxURLs  = 15
)

var contactKeywords = []string{"contact email", "website"}

// Rules is the deterministic Reasoner. It never fails.
type Rules struct{}

// NewRules returns the rule-based reasoner.
func NewRules() *Rules { return &Rules{} }

// DecideStrategy prefers registry-first with the official website ranked
// first when one is known, otherwise search-first.
func (r *Rules) DecideStrategy(ctx context.Context, ec EntityContext) (*model.DiscoveryStrategy, error) {
	queries, _ := r.GenerateQueries(ctx, ec)
	name := ec.Entity.DisplayName()

	if ec.HasOfficialWebsite() {
		return &model.DiscoveryStrategy{
			Approach:      model.ApproachRegistryFirst,
			SearchQueries: queries,
			MaxURLs:       clampURLs(RulesWebsiteMaxURLs),
			SourcePriority: []model.SourceCategory{
				model.SourceOfficialWebsite,
				model.SourceRegistry,
				model.SourceDirectory,
				model.SourceWebSearch,
				model.SourceSocial,
			},
			Rationale:  fmt.Sprintf("%s has a known website (%s); scrape it and the registry record without web search.", name, ec.Entity.Website),
			Confidence: 70,
			DecidedBy:  model.DecidedByRules,
		}, nil
	}

	return &model.DiscoveryStrategy{
		Approach:      model.ApproachSearchFirst,
		SearchQueries: queries,
		MaxURLs:       clampURLs(RulesSearchMaxURLs),
		SourcePriority: []model.SourceCategory{
			model.SourceWebSearch,
			model.SourceDirectory,
			model.SourceSocial,
			model.SourceRegistry,
		},
		Rationale:  fmt.Sprintf("No website is known for %s; search the web and directories for contact pages.", name),
		Confidence: 50,
		DecidedBy:  model.DecidedByRules,
	}, nil
}

// GenerateQueries combines the entity name and location with contact
// keywords, plus a registry-number-scoped query and a site-scoped query
// when a website is known.
func (r *Rules) GenerateQueries(_ context.Context, ec EntityContext) ([]string, error) {
	name := strings.TrimSpace(ec.Entity.DisplayName())
	loc := ec.location()
	base := strings.TrimSpace(name + " " + loc)

	var out []string
	for _, kw := range contactKeywords {
		out = append(out, base+" "+kw)
	}
	if reg := strings.TrimSpace(ec.Entity.RegistryNumber); reg != "" {
		out = append(out, name+" license "+reg)
	}
	if host := scrape.HostOf(ec.Entity.Website); ec.HasOfficialWebsite() && host != "" {
		out = append(out, "site:"+host+" contact")
	}
	return cleanQueries(out), nil
}

// InterpretResults builds a plain-text summary from aggregate stats.
func (r *Rules) InterpretResults(_ context.Context, stats AggregateStats) (*model.Interpretation, error) {
	name := stats.Entity.DisplayName()
	high, medium, low := stats.BucketCounts()
	top := stats.Top()

	out := &model.Interpretation{DecidedBy: model.DecidedByRules}

	if top == nil {
		out.Summary = fmt.Sprintf("No verifiable email found for %s.", name)
	} else {
		out.Summary = fmt.Sprintf("Found %d candidate email(s) for %s (%d high, %d medium, %d low confidence).",
			len(stats.Candidates), name, high, medium, low)
		out.KeyFindings = append(out.KeyFindings,
			fmt.Sprintf("Top candidate %s scored %d from %s.", top.Email, top.Confidence, top.Source))
	}
	if len(stats.SourcesUsed) > 0 {
		out.KeyFindings = append(out.KeyFindings, "Sources used: "+strings.Join(stats.SourcesUsed, ", ")+".")
	}
	out.KeyFindings = append(out.KeyFindings,
		fmt.Sprintf("Ran %d search queries and visited %d pages (%d failed).", stats.QueriesRun, stats.PagesVisited, stats.PagesFailed))
	if stats.BudgetExhausted {
		out.KeyFindings = append(out.KeyFindings, "The search budget was exhausted before all queries ran.")
	}

	switch {
	case top == nil:
		if stats.Entity.Phone != "" {
			out.Recommendations = append(out.Recommendations, fmt.Sprintf("Call %s to request a contact email.", stats.Entity.Phone))
		}
		out.Recommendations = append(out.Recommendations, "Check the registry portal record manually for a listed contact.")
		if !stats.Entity.HasWebsite() {
			out.Recommendations = append(out.Recommendations, "Look for an official website and rerun discovery with it.")
		}
	case high > 0:
		out.Recommendations = append(out.Recommendations, fmt.Sprintf("Use %s as the primary contact.", top.Email))
	default:
		out.Recommendations = append(out.Recommendations, "Verify the top candidate manually before outreach.")
	}

	out.ConfidenceExplanation = explainConfidence(top)
	return out, nil
}

func explainConfidence(top *model.EmailCandidate) string {
	if top == nil {
		return "No candidate passed validation, so there is no confidence to report."
	}
	var parts []string
	s := top.Signals
	if s.HasMX {
		parts = append(parts, "the domain has an MX record")
	}
	if s.AuthoritativeSource {
		parts = append(parts, "it was found on an authoritative source")
	}
	if s.MultiSource {
		parts = append(parts, fmt.Sprintf("%d independent sources agree", s.SourceCount))
	}
	if s.DomainMatchesWebsite {
		parts = append(parts, "the domain matches the official website")
	}
	if s.FreeMail {
		parts = append(parts, "it uses a free-mail provider")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s scored %d on format checks alone.", top.Email, top.Confidence)
	}
	return fmt.Sprintf("%s scored %d because %s.", top.Email, top.Confidence, strings.Join(parts, "; "))
}

func cleanQueries(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, q := range in {
		q = search.Clean(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		out = append(out, q)
	}
	return out
}
