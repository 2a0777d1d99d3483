package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/discovery-cli/internal/knowledge"
	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/registry"
	"github.com/sells-group/discovery-cli/internal/scrape"
	"github.com/sells-group/discovery-cli/internal/search"
)

// --- Resolver Mock ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, in model.ContractorInput) (*registry.Result, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.Result), args.Error(1)
}

// --- Knowledge Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetContractor(ctx context.Context, registryNumber string) (*knowledge.ContractorRecord, error) {
	args := m.Called(ctx, registryNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*knowledge.ContractorRecord), args.Error(1)
}

func (m *mockStore) UpsertContractor(ctx context.Context, rec knowledge.ContractorRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) GetEmails(ctx context.Context, registryNumber string) ([]knowledge.EmailRecord, error) {
	args := m.Called(ctx, registryNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]knowledge.EmailRecord), args.Error(1)
}

func (m *mockStore) UpsertEmail(ctx context.Context, rec knowledge.EmailRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// --- Page fetcher stub ---

type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]scrape.Page
	fetched []string
	block   chan struct{}
	rec     scrape.VisitRecorder
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*scrape.Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	p, ok := f.pages[url]
	block, rec := f.block, f.rec
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if rec != nil {
		rec.RecordVisit(model.VisitedSite{URL: url, Success: ok, Fetcher: "local_http"})
	}
	if !ok {
		return nil, errors.New("404")
	}
	p.URL = url
	return &p, nil
}

// factory returns a FetcherFactory that wires the stub to the entity's
// recorder.
func (f *stubFetcher) factory() FetcherFactory {
	return func(_ *scrape.DomainPolicy, rec scrape.VisitRecorder) scrape.Fetcher {
		f.mu.Lock()
		f.rec = rec
		f.mu.Unlock()
		return f
	}
}

// --- Search backend stub ---

type stubBackend struct {
	mu      sync.Mutex
	queries []string
	results map[string][]search.Result
	fail    bool
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Query(_ context.Context, query string, _ int) ([]search.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, query)
	if b.fail {
		return nil, errors.New("backend unavailable")
	}
	for key, rs := range b.results {
		if key == "*" || key == query {
			return rs, nil
		}
	}
	return nil, nil
}

func (b *stubBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries)
}

// --- Event collector ---

type collector struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (c *collector) Publish(ev model.ProgressEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) stages() []model.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Stage
	for _, ev := range c.events {
		if len(out) == 0 || out[len(out)-1] != ev.Stage {
			out = append(out, ev.Stage)
		}
	}
	return out
}
