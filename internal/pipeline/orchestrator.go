// Package pipeline runs contractors through registry lookup, strategy
// decision, discovery, validation, and interpretation, and manages jobs of
// many contractors.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/budget"
	"github.com/sells-group/discovery-cli/internal/cost"
	"github.com/sells-group/discovery-cli/internal/discovery"
	"github.com/sells-group/discovery-cli/internal/knowledge"
	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/reasoner"
	"github.com/sells-group/discovery-cli/internal/registry"
	"github.com/sells-group/discovery-cli/internal/scrape"
	"github.com/sells-group/discovery-cli/internal/search"
	"github.com/sells-group/discovery-cli/internal/validate"
)

// maxSearchEvidence caps search-result evidence records per entity.
const maxSearchEvidence = 20

// Resolver resolves a contractor input to its canonical entity.
type Resolver interface {
	Resolve(ctx context.Context, in model.ContractorInput) (*registry.Result, error)
}

// FetcherFactory builds the entity-scoped page fetcher.
type FetcherFactory func(policy *scrape.DomainPolicy, rec scrape.VisitRecorder) scrape.Fetcher

// SearcherFactory binds a search backend to a job's ledger and an entity's
// cost meter. A nil return disables search.
type SearcherFactory func(ledger *budget.Ledger, meter search.Meter) discovery.Searcher

// SessionFetchers returns a FetcherFactory over a shared scrape chain.
func SessionFetchers(chain *scrape.Chain, robots *scrape.Robots, excluded *scrape.PathMatcher) FetcherFactory {
	return func(policy *scrape.DomainPolicy, rec scrape.VisitRecorder) scrape.Fetcher {
		opts := []scrape.SessionOption{scrape.WithRecorder(rec)}
		if robots != nil {
			opts = append(opts, scrape.WithRobots(robots))
		}
		if excluded != nil {
			opts = append(opts, scrape.WithPathMatcher(excluded))
		}
		return scrape.NewSession(chain, policy, opts...)
	}
}

// AdapterSearchers returns a SearcherFactory over a shared search adapter.
func AdapterSearchers(a *search.Adapter) SearcherFactory {
	return func(ledger *budget.Ledger, meter search.Meter) discovery.Searcher {
		if a == nil {
			return nil
		}
		return a.Scoped(ledger, meter)
	}
}

// SourcePolicy is the process-wide domain policy merged into every job's
// preferences.
type SourcePolicy struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Registry  Resolver
	Reasoners *reasoner.Selector
	Searchers SearcherFactory
	Fetchers  FetcherFactory
	Validator *validate.Validator
	Store     knowledge.Store
	Calc      *cost.Calculator
	Sources   SourcePolicy
	Executor  discovery.Config
}

// Orchestrator runs one entity at a time through the stage machine. It
// is safe for concurrent use by many entity workers.
type Orchestrator struct {
	deps Deps
	now  func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Reasoners == nil {
		deps.Reasoners = reasoner.NewSelector(nil)
	}
	if deps.Calc == nil {
		deps.Calc = cost.NewCalculator(cost.DefaultRates())
	}
	if deps.Validator == nil {
		deps.Validator = validate.New(nil, nil, validate.DefaultConfig())
	}
	return &Orchestrator{deps: deps, now: time.Now}
}

// Scope is the job-owned state shared by every entity in a job.
type Scope struct {
	JobID       string
	Preferences model.Preferences
	Ledger      *budget.Ledger
	Tracker     *cost.Tracker
	Emit        Emitter
}

// Process runs the pipeline for one input and always returns a terminal
// result. Only an unresolvable registry lookup or cancellation ends in
// the Failed stage; every other failure degrades the result.
func (o *Orchestrator) Process(ctx context.Context, scope Scope, in model.ContractorInput) model.EntityResult {
	start := o.now()
	if scope.Ledger == nil {
		scope.Ledger = budget.NewLedger(budget.DefaultMaxCalls)
	}

	log := zap.L().With(
		zap.String("job_id", scope.JobID),
		zap.String("registry_number", in.RegistryNumber),
		zap.String("entity", in.Name),
	)
	rec := cost.NewRecorder(o.deps.Calc, scope.Tracker, in.RegistryNumber)
	m := newMachine(scope.JobID, in.RegistryNumber, scope.Emit, o.now, log)
	result := model.EntityResult{Input: in, Stage: model.StageStart}

	finish := func() model.EntityResult {
		snap := rec.Snapshot()
		result.Evidence = snap.Evidence
		result.Visits = snap.Visits
		result.Costs = snap.Costs
		result.TotalCost = snap.Total
		result.Stage = m.stage
		result.Duration = o.now().Sub(start)
		return result
	}
	fail := func(err error) model.EntityResult {
		result.Error = err.Error()
		_ = m.advance(model.StageFailed, model.SeverityError, "Failed: "+err.Error(), map[string]any{"stage": string(m.stage)})
		log.Warn("pipeline: entity failed", zap.Error(err))
		return finish()
	}

	m.publish(model.StageStart, model.SeverityInfo, "Processing "+displayInput(in), nil)

	// Registry lookup.
	_ = m.advance(model.StageRegistryLookup, model.SeverityInfo, "Resolving registry record", nil)
	resolved, err := o.deps.Registry.Resolve(ctx, in)
	if err != nil {
		return fail(err)
	}
	entity := resolved.Entity
	result.Entity = &entity
	rec.AddEvidence(model.EvidenceRegistryRecord, resolved.Source, describeEntity(entity), "")
	cached := o.cachedEmails(ctx, entity.RegistryNumber, log)
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: cancelled"))
	}

	// Strategy decision.
	_ = m.advance(model.StageStrategyDecision, model.SeverityInfo,
		fmt.Sprintf("Resolved %s from %s", entity.DisplayName(), resolved.Source),
		map[string]any{"source": resolved.Source, "from_cache": resolved.FromCache, "website": entity.Website})
	rsn := o.deps.Reasoners.ForEntity(scope.Preferences.UseLLM && o.deps.Reasoners.Available(), rec)
	ec := reasoner.EntityContext{Entity: entity, CachedEmails: len(cached)}
	strategy, _ := rsn.DecideStrategy(ctx, ec)
	if strategy == nil {
		strategy, _ = reasoner.NewRules().DecideStrategy(ctx, ec)
	}
	if strategy.Approach.Searches() && len(strategy.SearchQueries) == 0 {
		strategy.SearchQueries, _ = rsn.GenerateQueries(ctx, ec)
	}
	result.Strategy = strategy
	rec.AddEvidence(model.EvidenceReasoning, string(strategy.DecidedBy), strategy.Rationale, "")
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: cancelled"))
	}

	// Execution.
	_ = m.advance(model.StageExecution, model.SeverityInfo,
		fmt.Sprintf("Executing %s strategy", strategy.Approach),
		map[string]any{"approach": string(strategy.Approach), "queries": len(strategy.SearchQueries), "max_urls": strategy.MaxURLs})
	policy := o.policy(scope.Preferences, entity)
	var searcher discovery.Searcher
	if o.deps.Searchers != nil {
		searcher = o.deps.Searchers(scope.Ledger, rec)
	}
	var fetcher scrape.Fetcher = nopFetcher{}
	if o.deps.Fetchers != nil {
		fetcher = o.deps.Fetchers(policy, rec)
	}
	outcome, err := discovery.NewExecutor(searcher, fetcher, policy, o.deps.Executor).Execute(ctx, strategy, entity)
	if err != nil {
		return fail(err)
	}
	for i, r := range outcome.SearchResults {
		if i >= maxSearchEvidence {
			break
		}
		rec.AddEvidence(model.EvidenceSearchResult, r.Backend, strings.TrimSpace(r.Title+" "+r.Snippet), r.URL)
	}
	if outcome.BudgetExhausted {
		m.publish(model.StageExecution, model.SeverityWarning, "Search budget exhausted; continuing with what was found",
			map[string]any{"budget": scope.Ledger.Stats(entity.RegistryNumber)})
	}

	// Validation.
	raws := mergeCached(outcome.Emails, cached)
	_ = m.advance(model.StageValidation, model.SeverityInfo,
		fmt.Sprintf("Validating %d email(s)", len(raws)),
		map[string]any{"emails": len(raws), "pages_visited": outcome.PagesVisited, "queries_run": outcome.QueriesRun})
	candidates := validate.Filter(o.deps.Validator.Validate(ctx, raws, entity, rec), scope.Preferences.Strictness)
	result.Candidates = candidates
	for _, c := range candidates {
		rec.AddEvidence(model.EvidenceValidation, string(c.Source), c.Email+": "+c.Rationale, c.SourceURL)
	}
	o.persistEmails(ctx, entity.RegistryNumber, candidates, log)
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: cancelled"))
	}

	// Interpretation.
	_ = m.advance(model.StageInterpretation, model.SeverityInfo,
		fmt.Sprintf("Kept %d candidate(s)", len(candidates)), nil)
	stats := reasoner.AggregateStats{
		Entity:          entity,
		Strategy:        strategy,
		Candidates:      candidates,
		SourcesUsed:     outcome.SourcesUsed,
		QueriesRun:      outcome.QueriesRun,
		PagesVisited:    outcome.PagesVisited,
		PagesFailed:     outcome.PagesFailed,
		TotalCost:       rec.Total(),
		Duration:        o.now().Sub(start),
		BudgetExhausted: outcome.BudgetExhausted,
	}
	interp, _ := rsn.InterpretResults(ctx, stats)
	if interp == nil {
		interp, _ = reasoner.NewRules().InterpretResults(ctx, stats)
	}
	result.Interpretation = interp
	rec.AddEvidence(model.EvidenceReasoning, string(interp.DecidedBy), interp.Summary, "")

	high, medium, low := stats.BucketCounts()
	sev := model.SeveritySuccess
	if len(candidates) == 0 {
		sev = model.SeverityWarning
	}
	_ = m.advance(model.StageDone, sev, interp.Summary,
		map[string]any{"high": high, "medium": medium, "low": low, "total_cost": rec.Total()})

	log.Info("pipeline: entity complete",
		zap.Int("candidates", len(candidates)),
		zap.String("approach", string(strategy.Approach)),
		zap.Float64("total_cost", rec.Total()),
	)
	return finish()
}

// policy merges the job's allow/deny lists with the process-wide sources
// policy. The official website is always fetchable.
func (o *Orchestrator) policy(prefs model.Preferences, entity model.Entity) *scrape.DomainPolicy {
	allow := append(append([]string(nil), o.deps.Sources.Allow...), prefs.AllowDomains...)
	deny := append(append([]string(nil), o.deps.Sources.Deny...), prefs.DenyDomains...)
	p := scrape.NewDomainPolicy(allow, deny)
	if entity.HasWebsite() {
		p = p.Always(entity.Website)
	}
	return p
}

func (o *Orchestrator) cachedEmails(ctx context.Context, registryNumber string, log *zap.Logger) []knowledge.EmailRecord {
	if o.deps.Store == nil || registryNumber == "" {
		return nil
	}
	recs, err := o.deps.Store.GetEmails(ctx, registryNumber)
	if err != nil {
		log.Warn("pipeline: read cached emails", zap.Error(err))
		return nil
	}
	return recs
}

func (o *Orchestrator) persistEmails(ctx context.Context, registryNumber string, cands []model.EmailCandidate, log *zap.Logger) {
	if o.deps.Store == nil || registryNumber == "" {
		return
	}
	for _, c := range cands {
		if _, err := o.deps.Store.UpsertEmail(ctx, knowledge.EmailRecordFromCandidate(registryNumber, c)); err != nil {
			perr := &model.PersistenceError{Op: "upsert_email", Err: err}
			log.Warn("pipeline: email not cached", zap.String("email", c.Email), zap.Error(perr))
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

// mergeCached adds previously stored emails as knowledge-store sightings.
func mergeCached(found []model.RawEmail, cached []knowledge.EmailRecord) []model.RawEmail {
	if len(cached) == 0 {
		return found
	}
	out := append([]model.RawEmail(nil), found...)
	idx := make(map[string]int, len(out))
	for i, r := range out {
		idx[r.Email] = i
	}
	for _, c := range cached {
		email := model.NormalizeEmail(c.Email)
		sg := model.Sighting{Category: model.SourceKnowledge, URL: c.SourceURL}
		if i, ok := idx[email]; ok {
			out[i].Sightings = append(out[i].Sightings, sg)
			continue
		}
		idx[email] = len(out)
		out = append(out, model.RawEmail{Email: email, Sightings: []model.Sighting{sg}})
	}
	return out
}

func displayInput(in model.ContractorInput) string {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return in.RegistryNumber
	}
	if in.RegistryNumber == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, in.RegistryNumber)
}

func describeEntity(e model.Entity) string {
	parts := []string{"name=" + e.Name}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("registry_number", e.RegistryNumber)
	add("business_name", e.BusinessName)
	add("address", e.Address)
	add("city", e.City)
	add("phone", e.Phone)
	add("classification", e.Classification)
	add("status", e.Status)
	add("website", e.Website)
	return strings.Join(parts, "; ")
}

// nopFetcher fails every fetch; used when no scrape chain is configured.
type nopFetcher struct{}

func (nopFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	return nil, eris.Errorf("pipeline: no fetcher configured for %s", url)
}
