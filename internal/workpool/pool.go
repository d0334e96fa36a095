// Package workpool is the small fixed-size worker pool shared by catalog
// rebuilds and change-notification fan-out.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("workpool: closed")

// ErrFull is returned by TrySubmit when the queue has no free slot.
var ErrFull = errors.New("workpool: queue full")

// Job is a unit of work. ctx is cancelled when the pool is closed.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	name   string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithName labels the pool in log output.
func WithName(name string) Option {
	return func(p *Pool) { p.name = name }
}

// New starts a pool with the given worker count and queue size. Values below
// one are raised to one.
func New(workers, queueSize int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   "pool",
		logger: slog.Default(),
		jobs:   make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "workpool", "pool", p.name)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "worker", id, "panic", fmt.Sprint(r))
		}
	}()
	job(p.ctx)
}

// Submit queues job, blocking until a slot frees up or ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues job without blocking.
func (p *Pool) TrySubmit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrFull
	}
}

// Do submits job and waits for it to finish or for ctx to expire. A job that
// outlives ctx keeps running; only the wait is abandoned.
func (p *Pool) Do(ctx context.Context, job func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := p.Submit(ctx, func(poolCtx context.Context) {
		done <- job(poolCtx)
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int { return len(p.jobs) }

// Close stops accepting jobs, lets queued jobs drain, then cancels the
// context handed to jobs.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}
