package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/discovery-cli/internal/model"
)

func ev(job, summary string) model.ProgressEvent {
	return model.ProgressEvent{Timestamp: time.Now(), JobID: job, Summary: summary, Severity: model.SeverityInfo}
}

func drain(s *Subscription) []string {
	var out []string
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, e.Summary)
		default:
			return out
		}
	}
}

func TestPublish_NoSubscribersDoesNotBlock(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			b.Publish(ev("j1", "x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked without subscribers")
	}
}

func TestPublish_MultipleSubscribersAndFilter(t *testing.T) {
	b := New(WithReplay(0))
	all := b.Subscribe(nil, false)
	j1 := b.Subscribe(ForJob("j1"), false)

	b.Publish(ev("j1", "a"))
	b.Publish(ev("j2", "b"))
	b.Publish(ev("j1", "c"))

	assert.Equal(t, []string{"a", "b", "c"}, drain(all))
	assert.Equal(t, []string{"a", "c"}, drain(j1))
}

func TestPublish_SlowSubscriberDropsOldest(t *testing.T) {
	b := New(WithBuffer(3), WithReplay(0))
	s := b.Subscribe(nil, false)

	for i := 1; i <= 5; i++ {
		b.Publish(ev("j", fmt.Sprint(i)))
	}
	assert.Equal(t, []string{"3", "4", "5"}, drain(s))
	assert.Equal(t, int64(2), s.Dropped())
}

func TestSubscribe_Replay(t *testing.T) {
	b := New(WithBuffer(2), WithReplay(10))
	b.Publish(ev("j1", "a"))
	b.Publish(ev("j2", "b"))
	b.Publish(ev("j1", "c"))
	b.Publish(ev("j1", "d"))

	late := b.Subscribe(ForJob("j1"), true)
	assert.Equal(t, []string{"c", "d"}, drain(late), "newest matching events fit the buffer")

	fresh := b.Subscribe(ForJob("j1"), false)
	assert.Empty(t, drain(fresh))
}

func TestSubscription_CloseAndBroadcasterClose(t *testing.T) {
	b := New()
	s1 := b.Subscribe(nil, false)
	s2 := b.Subscribe(nil, false)
	require.Equal(t, 2, b.Subscribers())

	s1.Close()
	s1.Close()
	assert.Equal(t, 1, b.Subscribers())
	_, ok := <-s1.Events()
	assert.False(t, ok)

	b.Close()
	_, ok = <-s2.Events()
	assert.False(t, ok)
	s2.Close()

	b.Publish(ev("j", "ignored"))
	after := b.Subscribe(nil, true)
	_, ok = <-after.Events()
	assert.False(t, ok, "subscribing to a closed broadcaster yields a closed channel")
}

func TestPublish_ConcurrentWithDisconnects(t *testing.T) {
	b := New(WithBuffer(4))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := b.Subscribe(nil, true)
			for j := 0; j < 10; j++ {
				select {
				case <-s.Events():
				default:
				}
			}
			s.Close()
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish(ev("j", "x"))
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, b.Subscribers())
}
