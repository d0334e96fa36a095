package store

import (
	"context"
	"sync"

	"github.com/roach88/strainline/internal/textutil"
)

// strainLocks hands out one context-aware mutex per strain key. Entries are
// reference counted and dropped when nobody holds or waits on them.
type strainLocks struct {
	mu sync.Mutex
	m  map[string]*strainLock
}

type strainLock struct {
	ch   chan struct{}
	refs int
}

func newStrainLocks() *strainLocks {
	return &strainLocks{m: make(map[string]*strainLock)}
}

// acquire blocks until the lock for key is held or ctx ends.
func (l *strainLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &strainLock{ch: make(chan struct{}, 1)}
		l.m[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
}

func (l *strainLocks) release(key string, e *strainLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.m, key)
	}
}

// size reports the number of live lock entries.
func (l *strainLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// nameKey is the identity of a strain name: folded, punctuation-free and
// whitespace-collapsed.
func nameKey(name string) string {
	return textutil.Normalize(name)
}
