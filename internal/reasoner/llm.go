package reasoner

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/resilience"
)

// Reasoning operations, used for prompts, schemas, and cost attribution.
const (
	OpStrategy  = "decide_strategy"
	OpQueries   = "generate_queries"
	OpInterpret = "interpret_results"
)

// DefaultTemperature keeps structured output close to deterministic.
const DefaultTemperature float32 = 0.1

// DefaultTimeout bounds a single reasoning call.
const DefaultTimeout = 30 * time.Second

// CompletionRequest is one structured-output call to a reasoning backend.
type CompletionRequest struct {
	Op          string
	System      string
	Prompt      string
	Temperature float32
}

// Usage is the token consumption of one completion.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer produces JSON text for a CompletionRequest. Implementations
// mark retryable failures with resilience.TransientError.
type Completer interface {
	Provider() string
	Complete(ctx context.Context, req CompletionRequest) (string, Usage, error)
}

// LLMConfig tunes the LLM reasoner.
type LLMConfig struct {
	Temperature float32
	Timeout     time.Duration
	Retry       resilience.RetryConfig
}

// LLM is the model-backed Reasoner. Every failure is returned as a
// *model.ReasoningError.
type LLM struct {
	completer Completer
	cfg       LLMConfig
	sink      UsageSink
}

// NewLLM creates an LLM reasoner around a completer.
func NewLLM(c Completer, cfg LLMConfig) *LLM {
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &LLM{completer: c, cfg: cfg}
}

// Scoped returns a copy that reports token usage to sink.
func (l *LLM) Scoped(sink UsageSink) *LLM {
	cp := *l
	cp.sink = sink
	return &cp
}

type strategyResponse struct {
	Approach       string   `json:"approach"`
	SearchQueries  []string `json:"search_queries"`
	MaxURLs        int      `json:"max_urls"`
	SourcePriority []string `json:"source_priority"`
	Rationale      string   `json:"rationale"`
	Confidence     int      `json:"confidence"`
}

type queriesResponse struct {
	Queries []string `json:"queries"`
}

type interpretResponse struct {
	Summary               string   `json:"summary"`
	KeyFindings           []string `json:"key_findings"`
	Recommendations       []string `json:"recommendations"`
	ConfidenceExplanation string   `json:"confidence_explanation"`
}

// DecideStrategy asks the backend for a strategy and validates it.
func (l *LLM) DecideStrategy(ctx context.Context, ec EntityContext) (*model.DiscoveryStrategy, error) {
	var resp strategyResponse
	if err := l.call(ctx, OpStrategy, strategyPrompt, ec, &resp); err != nil {
		return nil, err
	}

	approach := model.Approach(strings.TrimSpace(resp.Approach))
	if !approach.Valid() {
		return nil, reasoningErr(OpStrategy, eris.Errorf("invalid approach %q", resp.Approach))
	}
	queries := cleanQueries(resp.SearchQueries)
	if len(queries) == 0 {
		return nil, reasoningErr(OpStrategy, eris.New("missing search_queries"))
	}
	if resp.MaxURLs == 0 {
		return nil, reasoningErr(OpStrategy, eris.New("missing max_urls"))
	}
	if strings.TrimSpace(resp.Rationale) == "" {
		return nil, reasoningErr(OpStrategy, eris.New("missing rationale"))
	}

	return &model.DiscoveryStrategy{
		Approach:       approach,
		SearchQueries:  queries,
		MaxURLs:        clampURLs(resp.MaxURLs),
		SourcePriority: parsePriority(resp.SourcePriority, ec.HasOfficialWebsite()),
		Rationale:      strings.TrimSpace(resp.Rationale),
		Confidence:     clampConfidence(resp.Confidence),
		DecidedBy:      model.DecidedByLLM,
	}, nil
}

// GenerateQueries asks the backend for search queries.
func (l *LLM) GenerateQueries(ctx context.Context, ec EntityContext) ([]string, error) {
	var resp queriesResponse
	if err := l.call(ctx, OpQueries, queriesPrompt, ec, &resp); err != nil {
		return nil, err
	}
	queries := cleanQueries(resp.Queries)
	if len(queries) == 0 {
		return nil, reasoningErr(OpQueries, eris.New("missing queries"))
	}
	return queries, nil
}

// InterpretResults asks the backend to explain a finished run.
func (l *LLM) InterpretResults(ctx context.Context, stats AggregateStats) (*model.Interpretation, error) {
	var resp interpretResponse
	if err := l.call(ctx, OpInterpret, interpretPrompt, stats, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return nil, reasoningErr(OpInterpret, eris.New("missing summary"))
	}
	return &model.Interpretation{
		Summary:               strings.TrimSpace(resp.Summary),
		KeyFindings:           resp.KeyFindings,
		Recommendations:       resp.Recommendations,
		ConfidenceExplanation: strings.TrimSpace(resp.ConfidenceExplanation),
		DecidedBy:             model.DecidedByLLM,
	}, nil
}

func (l *LLM) call(ctx context.Context, op, system string, input any, out any) error {
	payload, err := json.Marshal(input)
	if err != nil {
		return reasoningErr(op, eris.Wrap(err, "marshal input"))
	}
	req := CompletionRequest{
		Op:          op,
		System:      system,
		Prompt:      string(payload),
		Temperature: l.cfg.Temperature,
	}

	retry := l.cfg.Retry
	retry.Label = "reasoner." + op
	text, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()

		text, usage, err := l.completer.Complete(callCtx, req)
		if l.sink != nil && (usage.InputTokens > 0 || usage.OutputTokens > 0) {
			l.sink.ChargeReasoning(l.completer.Provider(), usage.Model, op, usage.InputTokens, usage.OutputTokens)
		}
		return text, err
	})
	if err != nil {
		return reasoningErr(op, err)
	}

	if err := json.Unmarshal([]byte(cleanJSON(text)), out); err != nil {
		zap.L().Debug("reasoner: malformed response",
			zap.String("op", op),
			zap.String("provider", l.completer.Provider()),
			zap.String("raw", model.Truncate(text, 200)),
		)
		return reasoningErr(op, eris.Wrap(err, "parse response"))
	}
	return nil
}

func reasoningErr(op string, err error) error {
	return &model.ReasoningError{Op: op, Err: err}
}

func parsePriority(raw []string, hasWebsite bool) []model.SourceCategory {
	known := map[model.SourceCategory]bool{
		model.SourceOfficialWebsite: true,
		model.SourceRegistry:        true,
		model.SourceWebSearch:       true,
		model.SourceSocial:          true,
		model.SourceDirectory:       true,
	}
	seen := make(map[model.SourceCategory]bool)
	var out []model.SourceCategory
	for _, r := range raw {
		c := model.SourceCategory(strings.ToLower(strings.TrimSpace(r)))
		if !known[c] || seen[c] {
			continue
		}
		if c == model.SourceOfficialWebsite && !hasWebsite {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		out = []model.SourceCategory{model.SourceWebSearch, model.SourceDirectory, model.SourceSocial, model.SourceRegistry}
		if hasWebsite {
			out = append([]model.SourceCategory{model.SourceOfficialWebsite}, out...)
		}
	}
	return out
}

// cleanJSON strips markdown fences and surrounding prose from a model
// response, returning the outermost JSON object.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

var (
	_ Reasoner = (*LLM)(nil)
	_ Reasoner = (*Rules)(nil)
)
