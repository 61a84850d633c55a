package throughput

import "sync"

// History keeps the most recent samples in a fixed-size ring.
type History[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	count int
}

func NewHistory[T any](capacity int) *History[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &History[T]{items: make([]T, capacity)}
}

func (h *History[T]) Add(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[h.head] = item
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

func (h *History[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// All returns the samples oldest first.
func (h *History[T]) All() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, h.count)
	start := 0
	if h.count == len(h.items) {
		start = h.head
	}
	for i := range out {
		out[i] = h.items[(start+i)%len(h.items)]
	}
	return out
}

func (h *History[T]) Last() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var zero T
	if h.count == 0 {
		return zero, false
	}
	return h.items[(h.head-1+len(h.items))%len(h.items)], true
}
