package scrape

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/pkg/jina"
)

type mockScraper struct {
	name     string
	supports bool
	result   *Result
	err      error
	calls    int
}

func (m *mockScraper) Name() string           { return m.name }
func (m *mockScraper) Supports(_ string) bool { return m.supports }
func (m *mockScraper) Scrape(_ context.Context, _ string) (*Result, error) {
	m.calls++
	return m.result, m.err
}

type mockJina struct {
	mock.Mock
}

func (m *mockJina) Read(ctx context.Context, targetURL string, opts ...jina.ReadOption) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if r := args.Get(0); r != nil {
		return r.(*jina.ReadResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockJina) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	if r := args.Get(0); r != nil {
		return r.(*jina.SearchResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type visitLog struct {
	mu     sync.Mutex
	visits []model.VisitedSite
}

func (v *visitLog) RecordVisit(site model.VisitedSite) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visits = append(v.visits, site)
}
