package pool

import (
	"sync"

	"github.com/eapache/queue"
)

// Queue is a bounded, thread-safe FIFO. Push fails instead of blocking when
// the queue is full.
type Queue[T any] struct {
	mu       sync.Mutex
	q        *queue.Queue
	capacity int
}

// NewQueue creates a queue holding at most capacity elements.
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{q: queue.New(), capacity: capacity}
}

// Cap returns the capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.q.Length()
}

// Push appends v. It fails if the queue is full.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.q.Length() >= q.capacity {
		return false
	}
	q.q.Add(v)
	return true
}

// Pop removes the oldest element.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.q.Length() == 0 {
		return zero, false
	}
	return q.q.Remove().(T), true
}

// Drain removes all elements, passing each to fn in FIFO order. fn is
// called without the queue lock held.
func (q *Queue[T]) Drain(fn func(T)) int {
	q.mu.Lock()
	items := make([]T, 0, q.q.Length())
	for q.q.Length() > 0 {
		items = append(items, q.q.Remove().(T))
	}
	q.mu.Unlock()

	for _, v := range items {
		fn(v)
	}
	return len(items)
}
