package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StepsOnEveryRead(t *testing.T) {
	c := NewFakeClock(time.Second)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Peek())
}

func TestFakeClock_FrozenWithZeroStep(t *testing.T) {
	c := NewFakeClock(0)
	assert.Equal(t, c.Now(), c.Now())
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	c := NewFakeClock(0)
	c.Advance(3 * time.Hour)
	assert.Equal(t, Epoch.Add(3*time.Hour), c.Now())

	c.Set(Epoch.Add(-time.Minute))
	assert.Equal(t, Epoch.Add(-time.Minute), c.Now())
}

func TestFakeClock_ConcurrentReadsAreUnique(t *testing.T) {
	c := NewFakeClock(time.Millisecond)
	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ts := c.Now()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}

func TestSequenceIDs(t *testing.T) {
	g := NewSequenceIDs("session")
	assert.Equal(t, "session-1", g.Next())
	assert.Equal(t, "session-2", g.Next())
	assert.Equal(t, "id-1", NewSequenceIDs("").Next())
}
