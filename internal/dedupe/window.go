// ABOUTME: Sliding TTL window of recently seen event keys
// ABOUTME: Expired keys are pruned lazily on access; the oldest key is evicted at capacity

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type sighting struct {
	key  string
	seen time.Time
}

// Window reports whether a key was already observed within the TTL.
// Keys are kept in first-seen order, so expiry always trims from the front.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewWindow creates a window holding at most maxSize keys for ttl each.
func NewWindow(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Observe records key and returns true if it was already seen within the TTL.
// A duplicate does not extend the original sighting.
func (w *Window) Observe(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if _, ok := w.index[key]; ok {
		return true
	}

	if w.order.Len() >= w.maxSize {
		w.dropLocked(w.order.Front())
	}
	w.index[key] = w.order.PushBack(&sighting{key: key, seen: now})
	return false
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.order.Len()
}

func (w *Window) pruneLocked(now time.Time) {
	for e := w.order.Front(); e != nil; e = w.order.Front() {
		s, _ := e.Value.(*sighting)
		if now.Sub(s.seen) < w.ttl {
			return
		}
		w.dropLocked(e)
	}
}

func (w *Window) dropLocked(e *list.Element) {
	if e == nil {
		return
	}
	s, _ := e.Value.(*sighting)
	w.order.Remove(e)
	delete(w.index, s.key)
}
