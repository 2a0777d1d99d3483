// Package reasoner picks a discovery strategy for an entity and explains
// the results, either through a language model or through fixed rules.
package reasoner

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/discovery-cli/internal/model"
)

// Reasoner plans discovery for one entity and interprets what was found.
type Reasoner interface {
	DecideStrategy(ctx context.Context, ec EntityContext) (*model.DiscoveryStrategy, error)
	GenerateQueries(ctx context.Context, ec EntityContext) ([]string, error)
	InterpretResults(ctx context.Context, stats AggregateStats) (*model.Interpretation, error)
}

// EntityContext is what the reasoner knows about an entity before
// discovery starts.
type EntityContext struct {
	Entity       model.Entity `json:"entity"`
	Location     string       `json:"location,omitempty"`
	CachedEmails int          `json:"cached_emails"`
}

// HasOfficialWebsite reports whether the entity has a known website.
func (ec EntityContext) HasOfficialWebsite() bool {
	return ec.Entity.HasWebsite()
}

// location returns the explicit location or falls back to the city.
func (ec EntityContext) location() string {
	if l := strings.TrimSpace(ec.Location); l != "" {
		return l
	}
	return strings.TrimSpace(ec.Entity.City)
}

// AggregateStats summarizes a finished discovery run for interpretation.
type AggregateStats struct {
	Entity          model.Entity             `json:"entity"`
	Strategy        *model.DiscoveryStrategy `json:"strategy,omitempty"`
	Candidates      []model.EmailCandidate   `json:"candidates"`
	SourcesUsed     []string                 `json:"sources_used"`
	QueriesRun      int                      `json:"queries_run"`
	PagesVisited    int                      `json:"pages_visited"`
	PagesFailed     int                      `json:"pages_failed"`
	TotalCost       float64                  `json:"total_cost"`
	Duration        time.Duration            `json:"duration"`
	BudgetExhausted bool                     `json:"budget_exhausted"`
}

// BucketCounts tallies candidates by confidence bucket.
func (s AggregateStats) BucketCounts() (high, medium, low int) {
	for _, c := range s.Candidates {
		switch c.Bucket() {
		case model.BucketHigh:
			high++
		case model.BucketMedium:
			medium++
		default:
			low++
		}
	}
	return high, medium, low
}

// Top returns the highest-confidence candidate, or nil.
func (s AggregateStats) Top() *model.EmailCandidate {
	if len(s.Candidates) == 0 {
		return nil
	}
	sorted := make([]model.EmailCandidate, len(s.Candidates))
	copy(sorted, s.Candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	return &sorted[0]
}

// UsageSink receives token usage for cost attribution.
type UsageSink interface {
	ChargeReasoning(provider, modelName, op string, input, output int)
}

const (
	minURLs = 1
	maxURLs = 20
)

func clampURLs(n int) int {
	if n < minURLs {
		return minURLs
	}
	if n > maxURLs {
		return maxURLs
	}
	return n
}

func clampConfidence(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
