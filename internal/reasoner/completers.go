package reasoner

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sells-group/discovery-cli/internal/resilience"
	"github.com/sells-group/discovery-cli/pkg/anthropic"
	"github.com/sells-group/discovery-cli/pkg/gemini"
)

// Reasoning providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

const anthropicMaxTokens = 1024

// AnthropicCompleter sends completions to the Anthropic Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter creates a completer for the given model.
func NewAnthropicCompleter(client anthropic.Client, model string) *AnthropicCompleter {
	return &AnthropicCompleter{client: client, model: model}
}

// Provider implements Completer.
func (c *AnthropicCompleter) Provider() string { return ProviderAnthropic }

// Complete implements Completer.
func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	temp := float64(req.Temperature)
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   anthropicMaxTokens,
		System:      []anthropic.SystemBlock{{Text: req.System}},
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return "", Usage{}, resilience.NewTransientError(err, code)
		}
		return "", Usage{}, err
	}

	resp.Usage.LogUsage(c.model, req.Op)
	return resp.Text(), Usage{
		Model:        c.model,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// GeminiCompleter sends completions to Gemini with a response schema per
// operation.
type GeminiCompleter struct {
	client gemini.Client
}

// NewGeminiCompleter creates a Gemini-backed completer.
func NewGeminiCompleter(client gemini.Client) *GeminiCompleter {
	return &GeminiCompleter{client: client}
}

// Provider implements Completer.
func (c *GeminiCompleter) Provider() string { return ProviderGemini }

// Complete implements Completer.
func (c *GeminiCompleter) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	resp, err := c.client.GenerateJSON(ctx, gemini.JSONRequest{
		System:      req.System,
		Prompt:      req.Prompt,
		Schema:      responseSchemas[req.Op],
		Temperature: genai.Ptr(req.Temperature),
	})
	if err != nil {
		if gemini.IsTransient(err) {
			return "", Usage{}, resilience.NewTransientError(err, 0)
		}
		return "", Usage{}, err
	}

	zap.L().Info("gemini: usage",
		zap.String("model", resp.Model),
		zap.String("op", req.Op),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
	)
	return resp.Text, Usage{
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}
