package cost

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
)

// maxSnapshot bounds the raw content kept on one evidence record.
const maxSnapshot = 4000

// Tracker holds a job's running cost total and optional ceiling. It is
// shared by every entity in the job.
type Tracker struct {
	cap float64

	mu    sync.Mutex
	spent float64
}

// NewTracker creates a tracker. A cap of zero or less means no ceiling.
func NewTracker(cap float64) *Tracker {
	return &Tracker{cap: cap}
}

// Reserve refuses the call once spend has reached the cap, then adds amount.
func (t *Tracker) Reserve(amount float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cap > 0 && t.spent >= t.cap {
		return &model.BudgetExceededError{Scope: model.BudgetScopeJob, Spent: t.spent, Cap: t.cap}
	}
	t.spent += amount
	return nil
}

// Add records spend that is never refused.
func (t *Tracker) Add(amount float64) {
	t.mu.Lock()
	t.spent += amount
	t.mu.Unlock()
}

// Total returns the spend so far.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}

// Exceeded reports whether the ceiling has been reached.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cap > 0 && t.spent >= t.cap
}

// Recorder is the append-only cost, evidence, and visit trail for one
// entity run. It is safe for concurrent use.
type Recorder struct {
	calc    *Calculator
	tracker *Tracker
	now     func() time.Time
	log     *zap.Logger

	mu       sync.Mutex
	items    []model.CostLineItem
	evidence []model.Evidence
	visits   []model.VisitedSite
	total    float64
}

// NewRecorder creates an entity recorder that rolls spend into tracker.
func NewRecorder(calc *Calculator, tracker *Tracker, registryNumber string) *Recorder {
	if tracker == nil {
		tracker = NewTracker(0)
	}
	return &Recorder{
		calc:    calc,
		tracker: tracker,
		now:     time.Now,
		log:     zap.L().With(zap.String("registry_number", registryNumber)),
	}
}

// Charge prices a metered call and records it. It returns a
// *model.BudgetExceededError, recording nothing, once the job ceiling has
// been reached.
func (r *Recorder) Charge(category model.CostCategory, source, description string, quantity int) error {
	unit := r.calc.Unit(category, source)
	total := unit * float64(quantity)
	if total <= 0 {
		r.append(category, source+": "+description, unit, quantity)
		return nil
	}
	if err := r.tracker.Reserve(total); err != nil {
		r.log.Info("cost: call refused by job ceiling",
			zap.String("category", string(category)),
			zap.String("source", source),
		)
		return err
	}
	r.append(category, source+": "+description, unit, quantity)
	return nil
}

// ChargeReasoning records an LLM call priced by tokens. Reasoning calls
// already made are never refused.
func (r *Recorder) ChargeReasoning(provider, modelName, op string, input, output int) {
	total := r.calc.Reasoning(provider, modelName, input, output)
	r.tracker.Add(total)
	r.append(model.CostReasoning, provider+"/"+modelName+": "+op, total, 1)
}

// RecordVisit appends a visited-site entry and a scrape line item priced by
// the fetcher that served it. It satisfies scrape.VisitRecorder.
func (r *Recorder) RecordVisit(v model.VisitedSite) {
	r.mu.Lock()
	r.visits = append(r.visits, v)
	r.mu.Unlock()

	if v.Fetcher == "" {
		return
	}
	unit := r.calc.PageFetch(v.Fetcher)
	r.tracker.Add(unit)
	r.append(model.CostScrape, v.Fetcher+": "+v.URL, unit, 1)
}

// AddEvidence appends a timestamped provenance record and returns it.
func (r *Recorder) AddEvidence(kind model.EvidenceKind, source, content, url string) model.Evidence {
	content = model.Truncate(content, maxSnapshot)
	ev := model.Evidence{
		ID:         uuid.New().String(),
		Kind:       kind,
		Source:     source,
		Content:    content,
		URL:        url,
		CapturedAt: r.now().UTC(),
	}
	r.mu.Lock()
	r.evidence = append(r.evidence, ev)
	r.mu.Unlock()
	return ev
}

func (r *Recorder) append(category model.CostCategory, description string, unit float64, quantity int) {
	item := model.CostLineItem{
		Category:    category,
		Description: description,
		UnitCost:    unit,
		Quantity:    quantity,
		TotalCost:   unit * float64(quantity),
		Currency:    r.calc.Currency(),
		Timestamp:   r.now().UTC(),
	}
	r.mu.Lock()
	r.items = append(r.items, item)
	r.total += item.TotalCost
	r.mu.Unlock()

	r.log.Info("cost: recorded",
		zap.String("category", string(category)),
		zap.String("description", description),
		zap.Float64("total_cost", item.TotalCost),
	)
}

// Total returns this entity's spend.
func (r *Recorder) Total() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Snapshot holds copies of a recorder's trails.
type Snapshot struct {
	Costs    []model.CostLineItem
	Evidence []model.Evidence
	Visits   []model.VisitedSite
	Total    float64
}

// Snapshot copies the trails recorded so far.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Costs:    append([]model.CostLineItem(nil), r.items...),
		Evidence: append([]model.Evidence(nil), r.evidence...),
		Visits:   append([]model.VisitedSite(nil), r.visits...),
		Total:    r.total,
	}
}
