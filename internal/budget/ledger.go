// Package budget tracks per-entity metered call budgets.
package budget

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/discovery-cli/internal/model"
)

// UnknownKey is the bucket used when a key has no digits.
const UnknownKey = "unknown"

// DefaultMaxCalls is the per-entity call allowance when none is configured.
const DefaultMaxCalls = 10

// DefaultHistoryLimit bounds the per-entity call history.
const DefaultHistoryLimit = 50

// CallRecord is one audited metered call.
type CallRecord struct {
	Seq         int       `json:"seq"`
	At          time.Time `json:"at"`
	Query       string    `json:"query"`
	ResultCount int       `json:"result_count"`
	Pending     bool      `json:"pending"`
}

type entry struct {
	mu           sync.Mutex
	max          int
	calls        int
	completed    int
	totalResults int
	successCount int
	history      []CallRecord
}

// Ledger holds independent call counters per normalized entity key. The zero
// value is not usable; construct with NewLedger.
type Ledger struct {
	mu           sync.Mutex
	entries      map[string]*entry
	defaultMax   int
	historyLimit int
	now          func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithHistoryLimit sets the number of call records kept per entity.
func WithHistoryLimit(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.historyLimit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger where every entity starts with defaultMax calls.
func NewLedger(defaultMax int, opts ...Option) *Ledger {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxCalls
	}
	l := &Ledger{
		entries:      make(map[string]*entry),
		defaultMax:   defaultMax,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NormalizeKey strips every non-digit. An empty result maps to UnknownKey.
func NormalizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return UnknownKey
	}
	return b.String()
}

// get returns the entry for key, creating it on first use. Only map access
// is serialized globally; counters are guarded by the entry's own mutex.
func (l *Ledger) get(key string) *entry {
	k := NormalizeKey(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[k]
	if !ok {
		e = &entry{max: l.defaultMax}
		l.entries[k] = e
	}
	return e
}

// SetMax overrides the allowance for one entity.
func (l *Ledger) SetMax(key string, max int) {
	e := l.get(key)
	e.mu.Lock()
	e.max = max
	e.mu.Unlock()
}

// CanCall reports whether the entity has budget left.
func (l *Ledger) CanCall(key string) bool {
	e := l.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls < e.max
}

// Reservation is a reserved call slot awaiting its result count.
type Reservation struct {
	ledger *Ledger
	key    string
	seq    int
	once   sync.Once
}

// Complete records the actual result count for the reserved call. Calling
// it more than once has no effect.
func (r *Reservation) Complete(resultCount int) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.ledger.complete(r.key, r.seq, resultCount)
	})
}

// Reserve atomically checks the allowance and records a pending call. It
// returns nil and records nothing when the budget is exhausted.
func (l *Ledger) Reserve(key, query string) *Reservation {
	e := l.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.calls >= e.max {
		return nil
	}
	e.calls++
	rec := CallRecord{Seq: e.calls, At: l.now(), Query: query, Pending: true}
	e.history = append(e.history, rec)
	if len(e.history) > l.historyLimit {
		e.history = e.history[len(e.history)-l.historyLimit:]
	}
	return &Reservation{ledger: l, key: key, seq: rec.Seq}
}

// RecordCall reserves a slot before the network request is issued. It
// returns false and performs no mutation if the budget is exhausted. The
// placeholder is the result count assumed until UpdateLastCallResult runs.
func (l *Ledger) RecordCall(key, query string, resultCountPlaceholder int) bool {
	r := l.Reserve(key, query)
	if r == nil {
		zap.L().Debug("budget: call refused",
			zap.String("key", NormalizeKey(key)),
			zap.String("query", query),
		)
		return false
	}
	e := l.get(key)
	e.mu.Lock()
	for i := range e.history {
		if e.history[i].Seq == r.seq {
			e.history[i].ResultCount = resultCountPlaceholder
		}
	}
	e.mu.Unlock()
	return true
}

// UpdateLastCallResult finalizes the most recent pending call.
func (l *Ledger) UpdateLastCallResult(key string, resultCount int) {
	e := l.get(key)
	e.mu.Lock()
	seq := 0
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].Pending {
			seq = e.history[i].Seq
			break
		}
	}
	e.mu.Unlock()
	if seq == 0 {
		return
	}
	l.complete(key, seq, resultCount)
}

func (l *Ledger) complete(key string, seq, resultCount int) {
	if resultCount < 0 {
		resultCount = 0
	}
	e := l.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.history {
		if e.history[i].Seq != seq {
			continue
		}
		if !e.history[i].Pending {
			return
		}
		e.history[i].Pending = false
		e.history[i].ResultCount = resultCount
		break
	}
	e.completed++
	e.totalResults += resultCount
	if resultCount > 0 {
		e.successCount++
	}
}

// Remaining returns the calls left for the entity.
func (l *Ledger) Remaining(key string) int {
	e := l.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := e.max - e.calls; r > 0 {
		return r
	}
	return 0
}

// Stats summarizes the entity's ledger entry.
func (l *Ledger) Stats(key string) model.BudgetStats {
	e := l.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := model.BudgetStats{
		Total:        e.calls,
		Max:          e.max,
		SuccessCount: e.successCount,
	}
	if r := e.max - e.calls; r > 0 {
		s.Remaining = r
	}
	if e.completed > 0 {
		s.AvgResults = float64(e.totalResults) / float64(e.completed)
	}
	return s
}

// History returns a copy of the entity's bounded call history.
func (l *Ledger) History(key string) []CallRecord {
	e := l.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]CallRecord, len(e.history))
	copy(out, e.history)
	return out
}

// Exceeded builds the error returned when an entity is out of budget.
func (l *Ledger) Exceeded(key string) *model.BudgetExceededError {
	return &model.BudgetExceededError{
		Scope: model.BudgetScopeEntity,
		Key:   NormalizeKey(key),
		Stats: l.Stats(key),
	}
}
