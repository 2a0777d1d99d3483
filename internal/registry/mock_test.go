package registry

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/discovery-cli/internal/knowledge"
	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/scrape"
)

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

// --- Portal Mock ---

type mockPortal struct {
	mock.Mock
}

func (m *mockPortal) Name() string { return "mock_portal" }

func (m *mockPortal) Extract(ctx context.Context, registryNumber, name string) (*model.Entity, error) {
	args := m.Called(ctx, registryNumber, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Entity), args.Error(1)
}

// --- Fetcher stub ---

type fetchFunc func(ctx context.Context, url string) (*scrape.Page, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) (*scrape.Page, error) {
	return f(ctx, url)
}
