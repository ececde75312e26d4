package archive

import "sync"

// ringQueue is a bounded FIFO. Push fails instead of growing when full.
type ringQueue[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int
	count int
}

func newRingQueue[T any](capacity int) *ringQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ringQueue[T]{buf: make([]T, capacity)}
}

// push appends item and returns the new length, or false if full.
func (q *ringQueue[T]) push(item T) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.buf) {
		return q.count, false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	return q.count, true
}

// drain removes up to max items (all if max <= 0) in FIFO order.
func (q *ringQueue[T]) drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	n := q.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	return out
}

func (q *ringQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
