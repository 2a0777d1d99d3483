package reasoner

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/discovery-cli/pkg/anthropic"
	"github.com/sells-group/discovery-cli/pkg/gemini"
)

// --- Completer Mock ---

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Provider() string { return "mock" }

func (m *mockCompleter) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Get(1).(Usage), args.Error(2)
}

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Gemini Mock ---

type mockGeminiClient struct {
	mock.Mock
}

func (m *mockGeminiClient) GenerateJSON(ctx context.Context, req gemini.JSONRequest) (*gemini.JSONResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gemini.JSONResponse), args.Error(1)
}

// --- Usage sink ---

type usageCall struct {
	provider, model, op string
	input, output       int
}

type recordingSink struct {
	mu    sync.Mutex
	calls []usageCall
}

func (s *recordingSink) ChargeReasoning(provider, modelName, op string, input, output int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, usageCall{provider, modelName, op, input, output})
}
