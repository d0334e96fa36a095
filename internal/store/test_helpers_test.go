package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/testutil"
)

// createTestStore opens a store in a temp dir with a ticking fake clock and
// sequential event ids. Extra options override the defaults.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	clock := testutil.NewFakeClock(time.Second)
	base := []Option{
		WithClock(clock.Now),
		WithEventIDs(testutil.NewSequenceIDs("ev").Next),
	}
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recordingSink collects published change events.
type recordingSink struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (r *recordingSink) Notify(ev model.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) Events() []model.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChangeEvent(nil), r.events...)
}
