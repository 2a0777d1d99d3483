package reasoner

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
)

// Selector chooses between the LLM and rule-based reasoners. The LLM path
// is used only when requested and configured, and any LLM failure falls
// back to rules.
type Selector struct {
	llm   *LLM
	rules *Rules
}

// NewSelector creates a selector. llm may be nil when no reasoning
// backend is configured.
func NewSelector(llm *LLM) *Selector {
	return &Selector{llm: llm, rules: NewRules()}
}

// Available reports whether an LLM backend is configured.
func (s *Selector) Available() bool { return s.llm != nil }

// ForEntity returns the reasoner for one entity run. The returned
// Reasoner never returns an error.
func (s *Selector) ForEntity(useLLM bool, sink UsageSink) Reasoner {
	if !useLLM || s.llm == nil {
		return s.rules
	}
	return &fallback{primary: s.llm.Scoped(sink), rules: s.rules}
}

type fallback struct {
	primary Reasoner
	rules   *Rules
}

func (f *fallback) DecideStrategy(ctx context.Context, ec EntityContext) (*model.DiscoveryStrategy, error) {
	out, err := f.primary.DecideStrategy(ctx, ec)
	if err == nil {
		return out, nil
	}
	logFallback(OpStrategy, ec.Entity.RegistryNumber, err)
	return f.rules.DecideStrategy(ctx, ec)
}

func (f *fallback) GenerateQueries(ctx context.Context, ec EntityContext) ([]string, error) {
	out, err := f.primary.GenerateQueries(ctx, ec)
	if err == nil {
		return out, nil
	}
	logFallback(OpQueries, ec.Entity.RegistryNumber, err)
	return f.rules.GenerateQueries(ctx, ec)
}

func (f *fallback) InterpretResults(ctx context.Context, stats AggregateStats) (*model.Interpretation, error) {
	out, err := f.primary.InterpretResults(ctx, stats)
	if err == nil {
		return out, nil
	}
	logFallback(OpInterpret, stats.Entity.RegistryNumber, err)
	return f.rules.InterpretResults(ctx, stats)
}

func logFallback(op, registryNumber string, err error) {
	zap.L().Warn("reasoner: llm failed, using rules",
		zap.String("op", op),
		zap.String("registry_number", registryNumber),
		zap.Error(err),
	)
}
