package pool

import (
	"fmt"

	"dominicbreuker/sessnet/pkg/metrics"
)

// Pool hands out pre-allocated items by value (typically pointers). It sits
// on an Arena and maps every item back to its slot, so pushing an item that
// is already free is detected and refused.
type Pool[T comparable] struct {
	name    string
	arena   *Arena[T]
	index   map[T]int // read-only after construction
	metrics *metrics.Metrics
}

// New creates a pool of n items built by newItem. m may be nil.
func New[T comparable](name string, n int, newItem func() T, m *metrics.Metrics) *Pool[T] {
	p := &Pool[T]{
		name:    name,
		index:   make(map[T]int, n),
		metrics: m,
	}
	p.arena = NewArena(n, func(i int) T {
		item := newItem()
		p.index[item] = i
		return item
	})
	return p
}

// Name returns the pool's name.
func (p *Pool[T]) Name() string {
	return p.name
}

// Cap returns the number of items.
func (p *Pool[T]) Cap() int {
	return p.arena.Cap()
}

// InUse returns the number of taken items.
func (p *Pool[T]) InUse() int {
	return p.arena.InUse()
}

// Pop takes a free item. It fails if the pool is exhausted.
func (p *Pool[T]) Pop() (T, bool) {
	_, item, ok := p.arena.Pop()
	if !ok {
		p.metrics.PoolExhausted(p.name)
		return item, false
	}
	p.metrics.PoolInUse(p.name, p.arena.InUse())
	return item, true
}

// Push returns an item. Foreign items and items that are already free are
// refused with an error and leave the pool untouched.
func (p *Pool[T]) Push(item T) error {
	idx, ok := p.index[item]
	if !ok {
		return fmt.Errorf("pool %s: %w: foreign item", p.name, ErrInvalidHandle)
	}
	h, ok := p.arena.Current(idx)
	if !ok {
		return fmt.Errorf("pool %s: %w: item %d", p.name, ErrDoubleFree, idx)
	}
	if err := p.arena.Push(h); err != nil {
		return fmt.Errorf("pool %s: %w", p.name, err)
	}
	p.metrics.PoolInUse(p.name, p.arena.InUse())
	return nil
}
