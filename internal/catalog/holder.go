package catalog

import (
	"sync/atomic"
)

// Holder publishes the current Snapshot. Readers never block writers and
// never see a partially built snapshot.
type Holder struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewHolder returns a holder serving an empty snapshot.
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(Build(0, nil, BuildOptions{}))
	return h
}

// Current returns the published snapshot. Callers should load it once per
// request and use that reference throughout.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// NextVersion reserves the next snapshot version number.
func (h *Holder) NextVersion() uint64 {
	return h.version.Add(1)
}

// Publish swaps in s if it is newer than the current snapshot. It returns
// false when a newer snapshot was published first, so a slow rebuild can
// never roll the catalog back.
func (h *Holder) Publish(s *Snapshot) bool {
	for {
		cur := h.current.Load()
		if cur != nil && cur.Version() >= s.Version() {
			return false
		}
		if h.current.CompareAndSwap(cur, s) {
			return true
		}
	}
}
