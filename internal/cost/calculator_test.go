package cost

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/discovery-cli/internal/model"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {Input: 0.80, Output: 4.00},
		},
		Gemini: map[string]ModelRate{
			"flash": {Input: 0.30, Output: 2.50},
		},
		Search: SearchRate{
			Default:  0.01,
			Backends: map[string]float64{"jina": 0.02},
		},
		Scrape:     map[string]float64{"local_http": 0, "jina": 0.005},
		Validation: ValidationRate{MXLookup: 0.001, SMTPProbe: 0.003},
	}
}

func TestCalculator(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	assert.Equal(t, DefaultCurrency, calc.Currency())
	assert.InDelta(t, 0.80+0.40, calc.Claude("haiku", 1_000_000, 100_000), 1e-9)
	assert.InDelta(t, 0.30+0.25, calc.Gemini("flash", 1_000_000, 100_000), 1e-9)
	assert.InDelta(t, 0.55, calc.Reasoning("gemini", "flash", 1_000_000, 100_000), 1e-9)
	assert.InDelta(t, 1.20, calc.Reasoning("anthropic", "haiku", 1_000_000, 100_000), 1e-9)
	assert.Zero(t, calc.Claude("unknown", 1_000_000, 1_000_000))

	tests := []struct {
		category model.CostCategory
		source   string
		want     float64
	}{
		{model.CostSearch, "jina", 0.02},
		{model.CostSearch, "duckduckgo", 0.01},
		{model.CostScrape, "jina", 0.005},
		{model.CostScrape, "local_http", 0},
		{model.CostValidation, "smtp", 0.003},
		{model.CostValidation, "mx", 0.001},
		{model.CostEnrichment, "x", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, calc.Unit(tt.category, tt.source), 1e-9, "%s/%s", tt.category, tt.source)
	}
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	assert.Equal(t, "USD", r.Currency)
	assert.NotEmpty(t, r.Anthropic)
	assert.NotEmpty(t, r.Gemini)
	assert.Zero(t, r.Scrape["local_http"])
}

func TestRecorder_ChargeAndCeiling(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(0.025)
	rec := NewRecorder(NewCalculator(testRates()), tracker, "123456")

	require.NoError(t, rec.Charge(model.CostSearch, "jina", "acme plumbing", 1))
	require.NoError(t, rec.Charge(model.CostSearch, "duckduckgo", "acme", 1))
	assert.True(t, tracker.Exceeded())

	err := rec.Charge(model.CostSearch, "jina", "acme contact", 1)
	var be *model.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, model.BudgetScopeJob, be.Scope)
	assert.InDelta(t, 0.03, be.Spent, 1e-9)

	snap := rec.Snapshot()
	require.Len(t, snap.Costs, 2)
	assert.Equal(t, "jina: acme plumbing", snap.Costs[0].Description)
	assert.Equal(t, "USD", snap.Costs[0].Currency)
	assert.InDelta(t, 0.03, snap.Total, 1e-9)
	assert.InDelta(t, 0.03, tracker.Total(), 1e-9)
}

func TestRecorder_SharedTracker(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(0)
	calc := NewCalculator(testRates())
	a := NewRecorder(calc, tracker, "1")
	b := NewRecorder(calc, tracker, "2")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = a.Charge(model.CostSearch, "duckduckgo", "q", 1) }()
		go func() { defer wg.Done(); _ = b.Charge(model.CostSearch, "duckduckgo", "q", 1) }()
	}
	wg.Wait()

	assert.InDelta(t, 0.5, a.Total(), 1e-9)
	assert.InDelta(t, 0.5, b.Total(), 1e-9)
	assert.InDelta(t, 1.0, tracker.Total(), 1e-9)
	assert.False(t, tracker.Exceeded(), "no cap")
}

func TestRecorder_VisitsAndReasoning(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(0.001)
	rec := NewRecorder(NewCalculator(testRates()), tracker, "1")

	rec.RecordVisit(model.VisitedSite{URL: "https://acme.example", Success: true, Fetcher: "jina"})
	rec.RecordVisit(model.VisitedSite{URL: "https://acme.example/contact", Success: true, Fetcher: "local_http"})
	rec.RecordVisit(model.VisitedSite{URL: "https://denied.example", Error: "domain denied"})
	rec.ChargeReasoning("anthropic", "haiku", "decide_strategy", 1_000_000, 0)

	snap := rec.Snapshot()
	assert.Len(t, snap.Visits, 3)
	require.Len(t, snap.Costs, 3)
	assert.Equal(t, model.CostScrape, snap.Costs[0].Category)
	assert.Equal(t, model.CostReasoning, snap.Costs[2].Category)
	assert.InDelta(t, 0.805, snap.Total, 1e-9)
	assert.True(t, tracker.Exceeded(), "unrefused spend still counts toward the ceiling")
}

func TestRecorder_Evidence(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(NewCalculator(testRates()), nil, "1")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	big := make([]byte, maxSnapshot+100)
	for i := range big {
		big[i] = 'x'
	}
	ev := rec.AddEvidence(model.EvidencePageContent, "local_http", string(big), "https://acme.example")
	assert.NotEmpty(t, ev.ID)
	assert.Len(t, ev.Content, maxSnapshot)
	assert.Equal(t, fixed, ev.CapturedAt)

	rec.AddEvidence(model.EvidenceRegistryRecord, "dataset", "ACME", "")
	snap := rec.Snapshot()
	require.Len(t, snap.Evidence, 2)
	assert.NotEqual(t, snap.Evidence[0].ID, snap.Evidence[1].ID)

	snap.Evidence[0].Source = "mutated"
	assert.Equal(t, "local_http", rec.Snapshot().Evidence[0].Source)
}

func TestRecorder_EvidenceKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(NewCalculator(testRates()), nil, "1")

	content := "x" + strings.Repeat("é", maxSnapshot)
	ev := rec.AddEvidence(model.EvidencePageContent, "local_http", content, "")
	assert.True(t, utf8.ValidString(ev.Content))
	assert.Len(t, ev.Content, maxSnapshot-1)
}
