package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/workpool"
)

func newTestNotifier(t *testing.T, opts ...Option) *Notifier {
	t.Helper()
	pool := workpool.New(2, 16)
	t.Cleanup(pool.Close)
	n := New(pool, opts...)
	t.Cleanup(n.Close)
	return n
}

func testEvent(strain string) model.ChangeEvent {
	return model.ChangeEvent{
		ID:         "ev-1",
		Strain:     strain,
		OldLineage: model.LineageHybrid,
		NewLineage: model.LineageSativa,
		Effective:  model.LineageSativa,
		Source:     model.SourceSovereign,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestNotifier_DeliversToAllSubscribers(t *testing.T) {
	n := newTestNotifier(t)

	var mu sync.Mutex
	got := map[string]string{}
	for _, id := range []string{"a", "b", "c"} {
		id := id
		n.Subscribe(id, func(ctx context.Context, ev model.ChangeEvent) error {
			mu.Lock()
			got[id] = ev.Strain
			mu.Unlock()
			return nil
		})
	}

	n.Notify(testEvent("Blue Dream"))

	waitFor(t, func() bool { return n.Stats().Delivered == 3 })
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]string{"a": "Blue Dream", "b": "Blue Dream", "c": "Blue Dream"}, got)
}

func TestNotifier_SlowHandlerDoesNotDelayFastHandler(t *testing.T) {
	const timeout = 150 * time.Millisecond
	n := newTestNotifier(t, WithHandlerTimeout(timeout))

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	n.Subscribe("slow", func(ctx context.Context, ev model.ChangeEvent) error {
		<-block // ignores ctx on purpose
		return nil
	})
	fastAt := make(chan time.Time, 1)
	n.Subscribe("fast", func(ctx context.Context, ev model.ChangeEvent) error {
		fastAt <- time.Now()
		return nil
	})

	start := time.Now()
	n.Notify(testEvent("Gelato"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "Notify must not block the caller")

	select {
	case at := <-fastAt:
		assert.Less(t, at.Sub(start), timeout, "fast handler waited on slow one")
	case <-time.After(time.Second):
		t.Fatal("fast handler never ran")
	}

	waitFor(t, func() bool { return n.Stats().TimedOut == 1 })
	assert.Equal(t, int64(1), n.Stats().Delivered)
}

func TestNotifier_HungSubscriberDoesNotStallLaterEvents(t *testing.T) {
	const timeout = 300 * time.Millisecond
	n := newTestNotifier(t, WithHandlerTimeout(timeout))

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	n.Subscribe("hung", func(ctx context.Context, ev model.ChangeEvent) error {
		<-block
		return nil
	})

	var mu sync.Mutex
	got := map[string]bool{}
	n.Subscribe("fast", func(ctx context.Context, ev model.ChangeEvent) error {
		mu.Lock()
		got[ev.ID] = true
		mu.Unlock()
		return nil
	})

	start := time.Now()
	for i := 0; i < 10; i++ {
		ev := testEvent("Gelato")
		ev.ID = fmt.Sprintf("ev-%d", i)
		n.Notify(ev)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	}, timeout, 5*time.Millisecond, "fast subscriber waited on the hung one")
	assert.Less(t, time.Since(start), timeout)
	assert.Zero(t, n.Stats().Dropped)
}

func TestNotifier_FullQueueDropsForThatSubscriberOnly(t *testing.T) {
	n := newTestNotifier(t, WithHandlerTimeout(time.Second), WithQueueSize(1))

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	started := make(chan struct{}, 1)
	n.Subscribe("hung", func(ctx context.Context, ev model.ChangeEvent) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	n.Notify(testEvent("Gelato"))
	<-started
	// One more fits in the queue; the rest are dropped.
	for i := 0; i < 5; i++ {
		n.Notify(testEvent("Gelato"))
	}
	waitFor(t, func() bool { return n.Stats().Dropped == 4 })
}

func TestNotifier_CloseStopsSubscribers(t *testing.T) {
	pool := workpool.New(1, 4)
	t.Cleanup(pool.Close)
	n := New(pool)

	n.Subscribe("a", func(ctx context.Context, ev model.ChangeEvent) error { return nil })
	n.Close()
	n.Close()
	assert.Empty(t, n.Subscribers())

	n.Subscribe("late", func(ctx context.Context, ev model.ChangeEvent) error { return nil })
	assert.Empty(t, n.Subscribers(), "subscribing after Close is a no-op")
}

func TestNotifier_DefaultTimeout(t *testing.T) {
	n := newTestNotifier(t)
	assert.Equal(t, 5*time.Second, n.timeout)
}

func TestNotifier_FailingHandlersAreIsolated(t *testing.T) {
	n := newTestNotifier(t)
	n.Subscribe("err", func(ctx context.Context, ev model.ChangeEvent) error { return errors.New("nope") })
	n.Subscribe("panic", func(ctx context.Context, ev model.ChangeEvent) error { panic("boom") })
	n.Subscribe("ok", func(ctx context.Context, ev model.ChangeEvent) error { return nil })

	n.Notify(testEvent("OG Kush"))

	waitFor(t, func() bool {
		s := n.Stats()
		return s.Failed == 2 && s.Delivered == 1
	})
}

func TestNotifier_AtMostOncePerEvent(t *testing.T) {
	n := newTestNotifier(t)
	var mu sync.Mutex
	calls := 0
	n.Subscribe("once", func(ctx context.Context, ev model.ChangeEvent) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("fail every time")
	})

	n.Notify(testEvent("Gelato"))
	waitFor(t, func() bool { return n.Stats().Failed == 1 })
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "failed deliveries are not retried")
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := newTestNotifier(t)
	received := make(chan struct{}, 1)
	n.Subscribe("gone", func(ctx context.Context, ev model.ChangeEvent) error {
		received <- struct{}{}
		return nil
	})
	assert.Equal(t, []string{"gone"}, n.Subscribers())

	assert.True(t, n.Unsubscribe("gone"))
	assert.False(t, n.Unsubscribe("gone"))
	assert.Empty(t, n.Subscribers())

	n.Notify(testEvent("Gelato"))
	select {
	case <-received:
		t.Fatal("unsubscribed handler received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_DropsWhenPoolClosed(t *testing.T) {
	pool := workpool.New(1, 1)
	n := New(pool)
	t.Cleanup(n.Close)
	pool.Close()

	n.Notify(testEvent("Gelato"))
	assert.Equal(t, int64(1), n.Stats().Dropped)
}

func TestRelayEnvelope_RoundTripKeepsOrigin(t *testing.T) {
	ev := testEvent("Blue Dream")
	b, err := encodeEnvelope("proc-a", ev)
	require.NoError(t, err)

	got, origin, err := decodeEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, "proc-a", origin)
	assert.Equal(t, ev.Strain, got.Strain)
	assert.False(t, got.Remote)
}

func TestNewRedisRelay_RequiresAddress(t *testing.T) {
	_, err := NewRedisRelay("", "", "proc-a", nil)
	require.Error(t, err)

	_, err = NewRedisRelay("localhost:6379", "", " ", nil)
	require.Error(t, err)
}
