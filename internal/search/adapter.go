package search

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/discovery-cli/internal/budget"
	"github.com/sells-group/discovery-cli/internal/model"
	"github.com/sells-group/discovery-cli/internal/resilience"
)

// Meter charges a metered call against the job's running cost. It returns
// a *model.BudgetExceededError once the job ceiling is reached.
type Meter interface {
	Charge(category model.CostCategory, source, description string, quantity int) error
}

// Response is the outcome of one Search.
type Response struct {
	Results   []Result `json:"results"`
	QueryUsed string   `json:"query_used"`
	Attempts  int      `json:"attempts"`
}

// Adapter runs budgeted queries against one backend. The ledger and meter
// belong to the job; use Scoped to bind them.
type Adapter struct {
	backend Backend
	limiter *rate.Limiter
	breaker *resilience.Breaker
	ledger  *budget.Ledger
	meter   Meter
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLimiter paces calls to the backend.
func WithLimiter(l *rate.Limiter) AdapterOption {
	return func(a *Adapter) { a.limiter = l }
}

// WithBreaker guards the backend with a circuit breaker.
func WithBreaker(b *resilience.Breaker) AdapterOption {
	return func(a *Adapter) { a.breaker = b }
}

// NewAdapter creates an adapter for backend.
func NewAdapter(backend Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{backend: backend}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Scoped returns a copy bound to a job's ledger and meter. The limiter and
// breaker stay shared.
func (a *Adapter) Scoped(ledger *budget.Ledger, meter Meter) *Adapter {
	c := *a
	c.ledger = ledger
	c.meter = meter
	return &c
}

// Name returns the backend name.
func (a *Adapter) Name() string { return a.backend.Name() }

// Search structures and cleans query, then tries its variants in order
// until one returns results. Each attempted variant reserves one budget
// slot for entityKey before the request is issued, and no more variants
// are tried than the entity has budget for. A failing variant moves on to
// the next one. Search fails fast with a *model.BudgetExceededError when
// the entity has no budget left.
func (a *Adapter) Search(ctx context.Context, query string, maxResults int, entityKey string) (*Response, error) {
	if a.ledger == nil {
		return nil, eris.New("search: adapter has no budget ledger")
	}
	if !a.ledger.CanCall(entityKey) {
		return nil, a.ledger.Exceeded(entityKey)
	}

	variants := Variants(Structure(query).String())
	if n := a.ledger.Remaining(entityKey); len(variants) > n {
		variants = variants[:n]
	}

	log := zap.L().With(
		zap.String("backend", a.backend.Name()),
		zap.String("registry_number", budget.NormalizeKey(entityKey)),
	)

	resp := &Response{}
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		res := a.ledger.Reserve(entityKey, v)
		if res == nil {
			break
		}
		resp.Attempts++

		results, err := a.attempt(ctx, v, maxResults)
		res.Complete(len(results))

		if err != nil {
			var be *model.BudgetExceededError
			if errors.As(err, &be) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return resp, err
			}
			log.Warn("search: variant failed", zap.String("query", v), zap.Error(err))
			continue
		}
		log.Debug("search: variant complete", zap.String("query", v), zap.Int("results", len(results)))
		if len(results) > 0 {
			resp.Results = results
			resp.QueryUsed = v
			return resp, nil
		}
	}
	return resp, nil
}

func (a *Adapter) attempt(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if a.meter != nil {
		if err := a.meter.Charge(model.CostSearch, a.backend.Name(), query, 1); err != nil {
			return nil, err
		}
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Wait fails early when the next slot lies past the deadline.
			return nil, eris.Wrap(context.DeadlineExceeded, "search: rate limiter wait")
		}
	}
	if a.breaker == nil {
		return a.backend.Query(ctx, query, maxResults)
	}
	return resilience.Call(ctx, a.breaker, func(ctx context.Context) ([]Result, error) {
		return a.backend.Query(ctx, query, maxResults)
	})
}
