package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/discovery-cli/internal/budget"
	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/resilience"
	"github.com/sells-group/discovery-cli/internal/scrape"
	"github.com/sells-group/discovery-cli/pkg/jina"
)

// longQuery has five distinct variants.
const longQuery = "The Acme Plumbing and Heating Company 2024 Services"

type stubBackend struct {
	mu      sync.Mutex
	queries []string
	respond func(call int, query string) ([]Result, error)
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Query(_ context.Context, query string, _ int) ([]Result, error) {
	b.mu.Lock()
	b.queries = append(b.queries, query)
	call := len(b.queries)
	b.mu.Unlock()
	if b.respond == nil {
		return nil, nil
	}
	return b.respond(call, query)
}

func (b *stubBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries)
}

type stubMeter struct {
	charges int
	err     error
}

func (m *stubMeter) Charge(model.CostCategory, string, string, int) error {
	if m.err != nil {
		return m.err
	}
	m.charges++
	return nil
}

func TestAdapter_VariantsCappedByBudget(t *testing.T) {
	ledger := budget.NewLedger(10)
	ledger.SetMax("98765", 3)
	backend := &stubBackend{}
	a := NewAdapter(backend).Scoped(ledger, nil)

	resp, err := a.Search(context.Background(), longQuery, 10, "98765")
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, 3, backend.calls())
	assert.Equal(t, 3, ledger.Stats("98765").Total)

	_, err = a.Search(context.Background(), longQuery, 10, "98765")
	var be *model.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 3, be.Stats.Total)
	assert.Equal(t, 3, backend.calls(), "no call after exhaustion")
}

func TestAdapter_StopsAtFirstResults(t *testing.T) {
	ledger := budget.NewLedger(10)
	backend := &stubBackend{respond: func(call int, _ string) ([]Result, error) {
		if call == 2 {
			return []Result{{URL: "https://acme.example"}}, nil
		}
		return nil, nil
	}}
	meter := &stubMeter{}
	a := NewAdapter(backend).Scoped(ledger, meter)

	resp, err := a.Search(context.Background(), longQuery, 10, "ROC-123456")
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, "The Acme Plumbing and Heating", resp.QueryUsed)
	assert.Equal(t, 2, meter.charges)

	stats := ledger.Stats("123456")
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.SuccessCount)
}

func TestAdapter_FailedVariantDoesNotAbort(t *testing.T) {
	ledger := budget.NewLedger(10)
	backend := &stubBackend{respond: func(call int, _ string) ([]Result, error) {
		if call == 1 {
			return nil, resilience.NewFetchError("stub", "q", errors.New("timeout"), 0)
		}
		return []Result{{URL: "https://acme.example"}}, nil
	}}
	a := NewAdapter(backend).Scoped(ledger, nil)

	resp, err := a.Search(context.Background(), longQuery, 10, "1")
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, 2, ledger.Stats("1").Total, "failed variant still counts")
}

func TestAdapter_QuotesNeverReachBackend(t *testing.T) {
	backend := &stubBackend{respond: func(int, string) ([]Result, error) {
		return []Result{{URL: "https://acme.example"}}, nil
	}}
	a := NewAdapter(backend).Scoped(budget.NewLedger(5), nil)

	resp, err := a.Search(context.Background(), `"Acme Plumbing" + Phoenix AZ`, 5, "1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing Phoenix AZ", resp.QueryUsed)
	assert.Equal(t, []string{"Acme Plumbing Phoenix AZ"}, backend.queries)
}

func TestAdapter_JobCeilingStops(t *testing.T) {
	ledger := budget.NewLedger(10)
	backend := &stubBackend{}
	meter := &stubMeter{err: &model.BudgetExceededError{Scope: model.BudgetScopeJob, Spent: 1, Cap: 1}}
	a := NewAdapter(backend).Scoped(ledger, meter)

	resp, err := a.Search(context.Background(), longQuery, 10, "1")
	require.Error(t, err)
	assert.True(t, model.IsBudgetExceeded(err))
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, 0, backend.calls())

	hist := ledger.History("1")
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Pending, "reservation finalized")
}

func TestAdapter_CancelledContextFinalizesReservation(t *testing.T) {
	ledger := budget.NewLedger(10)
	backend := &stubBackend{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, limiter.Allow())
	a := NewAdapter(backend, WithLimiter(limiter)).Scoped(ledger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Search(ctx, longQuery, 10, "1")
	require.Error(t, err)
	assert.Equal(t, 0, backend.calls())

	for _, rec := range ledger.History("1") {
		assert.False(t, rec.Pending)
		assert.Equal(t, 0, rec.ResultCount)
	}
}

func TestAdapter_ConcurrentSearchesRespectBudget(t *testing.T) {
	ledger := budget.NewLedger(4)
	backend := &stubBackend{}
	a := NewAdapter(backend).Scoped(ledger, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Search(context.Background(), longQuery, 10, "555")
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, backend.calls())
	assert.Equal(t, 4, ledger.Stats("555").Total)
}

func TestAdapter_BreakerOpenCountsAsFailedVariant(t *testing.T) {
	ledger := budget.NewLedger(10)
	backend := &stubBackend{respond: func(int, string) ([]Result, error) {
		return nil, resilience.NewTransientError(errors.New("502"), 502)
	}}
	breaker := resilience.NewBreaker("stub", resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	a := NewAdapter(backend, WithBreaker(breaker)).Scoped(ledger, nil)

	resp, err := a.Search(context.Background(), longQuery, 10, "1")
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Attempts)
	assert.Equal(t, 2, backend.calls())
	assert.Equal(t, resilience.StateOpen, breaker.State())
}

func TestAdapter_RequiresLedger(t *testing.T) {
	_, err := NewAdapter(&stubBackend{}).Search(context.Background(), "acme", 5, "1")
	require.Error(t, err)
}

func TestPageBackend(t *testing.T) {
	var fetched string
	f := fetchFunc(func(_ context.Context, u string) (*scrape.Page, error) {
		fetched = u
		return &scrape.Page{URL: u, HTML: ddgFixture}, nil
	})
	b := NewPageBackend("duckduckgo", "https://html.duckduckgo.com/html/?q={query}", f, nil)

	results, err := b.Query(context.Background(), "Acme Plumbing", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://html.duckduckgo.com/html/?q=Acme+Plumbing", fetched)
	require.Len(t, results, 1)
	assert.Equal(t, "duckduckgo", results[0].Backend)

	failing := NewPageBackend("duckduckgo", "https://html.duckduckgo.com/html/?q={query}",
		fetchFunc(func(context.Context, string) (*scrape.Page, error) { return nil, errors.New("down") }), nil)
	_, err = failing.Query(context.Background(), "acme", 5)
	require.Error(t, err)
}

func TestJinaBackend(t *testing.T) {
	client := &fakeJina{resp: &jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "Acme Plumbing", URL: "https://acme.example", Description: "Phoenix plumber"},
		{Title: "dup", URL: "https://acme.example"},
		{Title: "no url"},
	}}}
	b := NewJinaBackend(client)

	results, err := b.Query(context.Background(), "site:yelp.com Acme Plumbing", 5)
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", client.query)
	require.Len(t, results, 1)
	assert.Equal(t, "Phoenix plumber", results[0].Snippet)
	assert.Equal(t, "jina", results[0].Backend)

	client.err = &jina.StatusError{Code: 503}
	_, err = b.Query(context.Background(), "acme", 5)
	var te *resilience.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 503, te.StatusCode)
}

type fetchFunc func(ctx context.Context, url string) (*scrape.Page, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) (*scrape.Page, error) { return f(ctx, url) }

type fakeJina struct {
	query string
	resp  *jina.SearchResponse
	err   error
}

func (f *fakeJina) Read(context.Context, string, ...jina.ReadOption) (*jina.ReadResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeJina) Search(_ context.Context, query string, _ ...jina.SearchOption) (*jina.SearchResponse, error) {
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}
