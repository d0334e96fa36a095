// Package notify fans lineage change events out to subscribed sessions.
//
// Notify never blocks the caller: the event is queued on the shared worker
// pool and the store write that produced it has already returned. A pool
// worker only copies the event into each subscriber's bounded queue, so it
// is never held by a handler. Every subscriber has its own delivery
// goroutine that runs the handler under a fixed timeout. A full subscriber
// queue drops the event for that subscriber only. Slow or failing handlers
// are logged and abandoned; delivery is at most once and never retried.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/workpool"
)

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 5 * time.Second

// DefaultQueueSize is the per-subscriber delivery buffer.
const DefaultQueueSize = 64

// Handler receives one change event. ctx expires after the handler timeout.
type Handler func(ctx context.Context, ev model.ChangeEvent) error

// Stats counts delivery outcomes since the notifier was created.
type Stats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`
	Dropped   int64 `json:"dropped"`
}

// subscriber owns one handler, its queue and the goroutine draining it.
type subscriber struct {
	id    string
	h     Handler
	queue chan model.ChangeEvent
	stop  chan struct{}
}

// Notifier dispatches change events to subscribers.
type Notifier struct {
	pool      *workpool.Pool
	timeout   time.Duration
	queueSize int
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	delivered atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHandlerTimeout overrides DefaultHandlerTimeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queueSize = size
		}
	}
}

// WithLogger sets the notifier logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a Notifier that fans out on pool. Call Close to stop the
// subscriber goroutines.
func New(pool *workpool.Pool, opts ...Option) *Notifier {
	n := &Notifier{
		pool:      pool,
		timeout:   DefaultHandlerTimeout,
		queueSize: DefaultQueueSize,
		logger:    slog.Default(),
		subs:      make(map[string]*subscriber),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "notifier")
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n
}

// Subscribe registers h under id, replacing any previous handler for id.
func (n *Notifier) Subscribe(id string, h Handler) {
	if h == nil {
		return
	}
	sub := &subscriber{
		id:    id,
		h:     h,
		queue: make(chan model.ChangeEvent, n.queueSize),
		stop:  make(chan struct{}),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if old, ok := n.subs[id]; ok {
		close(old.stop)
	}
	n.subs[id] = sub
	n.wg.Add(1)
	n.mu.Unlock()

	go n.run(sub)
	n.logger.Debug("subscribed", "subscriber", id)
}

// Unsubscribe removes the handler for id and reports whether one existed.
// Events still queued for it are discarded.
func (n *Notifier) Unsubscribe(id string) bool {
	n.mu.Lock()
	sub, ok := n.subs[id]
	if ok {
		close(sub.stop)
		delete(n.subs, id)
	}
	n.mu.Unlock()
	if ok {
		n.logger.Debug("unsubscribed", "subscriber", id)
	}
	return ok
}

// Subscribers returns the subscribed ids in sorted order.
func (n *Notifier) Subscribers() []string {
	n.mu.RLock()
	ids := make([]string, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	n.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Stats returns the delivery counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		TimedOut:  n.timedOut.Load(),
		Dropped:   n.dropped.Load(),
	}
}

// Notify queues ev for fan-out and returns immediately. If the pool queue
// is full or closed the event is dropped and logged.
func (n *Notifier) Notify(ev model.ChangeEvent) {
	err := n.pool.TrySubmit(func(context.Context) {
		n.fanOut(ev)
	})
	if err != nil {
		n.dropped.Add(1)
		n.logger.Warn("dropping change event", "strain", ev.Strain, "event", ev.ID, "error", err)
	}
}

// Close stops every subscriber goroutine and waits for them. Running
// handlers see their context cancelled. It is safe to call more than once.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		close(sub.stop)
		delete(n.subs, id)
	}
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
}

// fanOut copies ev into every subscriber queue without blocking.
func (n *Notifier) fanOut(ev model.ChangeEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subs {
		select {
		case sub.queue <- ev:
		default:
			n.dropped.Add(1)
			n.logger.Warn("subscriber queue full; event dropped", "subscriber", sub.id, "strain", ev.Strain, "event", ev.ID)
		}
	}
}

// run delivers queued events to one subscriber in order.
func (n *Notifier) run(sub *subscriber) {
	defer n.wg.Done()
	for {
		select {
		case <-sub.stop:
			return
		case <-n.ctx.Done():
			return
		case ev := <-sub.queue:
			n.deliver(n.ctx, sub.id, sub.h, ev)
		}
	}
}

func (n *Notifier) deliver(parent context.Context, id string, h Handler, ev model.ChangeEvent) {
	ctx, cancel := context.WithTimeout(parent, n.timeout)
	defer cancel()

	// Buffered so an abandoned handler can still finish without leaking.
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		result <- h(ctx, ev)
	}()

	select {
	case err := <-result:
		if err != nil {
			n.failed.Add(1)
			n.logger.Warn("handler failed", "subscriber", id, "strain", ev.Strain, "error", err)
			return
		}
		n.delivered.Add(1)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			n.timedOut.Add(1)
			n.logger.Warn("handler timed out; abandoned", "subscriber", id, "strain", ev.Strain, "timeout", n.timeout)
			return
		}
		n.failed.Add(1)
		n.logger.Warn("handler cancelled", "subscriber", id, "strain", ev.Strain, "error", ctx.Err())
	}
}
