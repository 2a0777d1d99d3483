package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a source is skipped because its breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerState is the state of one source's breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when a source is taken out of rotation.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures
	// that opens the breaker.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects calls before letting
	// one probe through.
	Cooldown time.Duration
}

// DefaultBreakerConfig suits flaky third-party search and portal pages.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// Breaker is a consecutive-failure circuit breaker for one source.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker for the named source.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker past its
// cooldown moves to half-open and admits a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.setState(StateHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

// Record feeds a call outcome into the breaker. Only transient failures
// count; a cancelled context or a permanent error leaves it untouched.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}
	if !IsTransient(err) || isCancelled(err) {
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) setState(to BreakerState) {
	if b.state == to {
		return
	}
	zap.L().Debug("resilience: breaker state change",
		zap.String("source", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	b.state = to
}

// Call runs fn through the breaker and returns its value.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.Record(err)
	return val, err
}

// Breakers holds one breaker per source name.
type Breakers struct {
	cfg BreakerConfig

	mu sync.Mutex
	m  map[string]*Breaker
}

// NewBreakers creates an empty per-source registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, m: make(map[string]*Breaker)}
}

// Get returns the breaker for source, creating it on first use.
func (bs *Breakers) Get(source string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[source]
	if !ok {
		b = NewBreaker(source, bs.cfg)
		bs.m[source] = b
	}
	return b
}

// States returns a snapshot of every known source's state.
func (bs *Breakers) States() map[string]BreakerState {
	bs.mu.Lock()
	names := make([]*Breaker, 0, len(bs.m))
	for _, b := range bs.m {
		names = append(names, b)
	}
	bs.mu.Unlock()

	out := make(map[string]BreakerState, len(names))
	for _, b := range names {
		out[b.name] = b.State()
	}
	return out
}
