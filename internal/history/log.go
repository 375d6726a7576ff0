package history

import "sync"

// Log is a fixed-capacity append-only log. When full, the oldest entry is
// evicted. A capacity of zero or less means unbounded.
type Log[T any] struct {
	mu       sync.RWMutex
	capacity int
	items    []T
	start    int
	total    uint64
}

// NewLog creates a log that keeps at most capacity entries.
func NewLog[T any](capacity int) *Log[T] {
	return &Log[T]{capacity: capacity}
}

// Append adds v, evicting the oldest entry on overflow.
func (l *Log[T]) Append(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	if l.capacity <= 0 || len(l.items) < l.capacity {
		l.items = append(l.items, v)
		return
	}
	l.items[l.start] = v
	l.start = (l.start + 1) % l.capacity
}

// Len returns the number of retained entries.
func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Total returns the number of entries ever appended.
func (l *Log[T]) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Latest returns up to n entries, newest first. n <= 0 returns all.
func (l *Log[T]) Latest(n int) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := len(l.items)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.start + size - 1 - i) % size
		out = append(out, l.items[idx])
	}
	return out
}

// Last returns the newest entry.
func (l *Log[T]) Last() (T, bool) {
	items := l.Latest(1)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}
