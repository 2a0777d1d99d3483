// Package events fans pipeline progress events out to live subscribers.
// Publishing never blocks: a subscriber that falls behind loses its oldest
// undelivered events.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/sells-group/discovery-cli/internal/model"
)

const (
	// DefaultBuffer is the per-subscriber queue length.
	DefaultBuffer = 64
	// DefaultReplay is how many recent events a new subscriber may receive.
	DefaultReplay = 256
)

// Filter selects the events a subscriber receives.
type Filter func(model.ProgressEvent) bool

// ForJob matches events of one job.
func ForJob(jobID string) Filter {
	return func(ev model.ProgressEvent) bool { return ev.JobID == jobID }
}

// Broadcaster delivers published events to zero or more subscribers.
type Broadcaster struct {
	buffer int

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	recent []model.ProgressEvent
	replay int
	closed bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithReplay sets how many recent events are kept for late subscribers.
// Zero disables replay.
func WithReplay(n int) Option {
	return func(b *Broadcaster) {
		if n >= 0 {
			b.replay = n
		}
	}
}

// New creates a Broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		buffer: DefaultBuffer,
		replay: DefaultReplay,
		subs:   make(map[uint64]*Subscription),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscription is one reader's queue.
type Subscription struct {
	id      uint64
	b       *Broadcaster
	ch      chan model.ProgressEvent
	filter  Filter
	dropped atomic.Int64
	once    sync.Once
}

// Events returns the receive channel. It is closed when the subscription
// or the broadcaster closes.
func (s *Subscription) Events() <-chan model.ProgressEvent { return s.ch }

// Dropped reports how many events were discarded because the reader was
// slow.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.b.subs, s.id)
		close(s.ch)
	})
}

// offer enqueues ev, discarding the oldest queued event when full.
// Callers hold the broadcaster lock.
func (s *Subscription) offer(ev model.ProgressEvent) {
	if s.filter != nil && !s.filter(ev) {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Subscribe registers a reader. With replay set, matching recent events
// are queued first (the newest ones when there are more than fit).
func (b *Broadcaster) Subscribe(filter Filter, replay bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{
		id:     b.nextID,
		b:      b,
		ch:     make(chan model.ProgressEvent, b.buffer),
		filter: filter,
	}
	b.nextID++
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	if replay {
		for _, ev := range b.recent {
			s.offer(ev)
		}
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broadcaster) Publish(ev model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.replay > 0 {
		if len(b.recent) >= b.replay {
			copy(b.recent, b.recent[1:])
			b.recent = b.recent[:len(b.recent)-1]
		}
		b.recent = append(b.recent, ev)
	}
	for _, s := range b.subs {
		s.offer(ev)
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.closeLocked()
	}
}
