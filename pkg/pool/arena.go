// Package pool provides fixed-capacity building blocks: an arena of
// pre-allocated slots addressed by generation-checked handles, a pool of
// reusable items on top of it, and a bounded FIFO queue. None of them grow
// and none of them block; exhaustion is reported to the caller.
package pool

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidHandle is returned for handles outside the arena.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrStaleHandle is returned for handles of a slot that has been reused.
	ErrStaleHandle = errors.New("stale handle")
	// ErrDoubleFree is returned when a free slot is pushed back.
	ErrDoubleFree = errors.New("slot already free")
)

// Handle addresses an arena slot. The generation makes handles of a slot
// that was freed and reused distinguishable from the current one.
type Handle struct {
	Index uint32
	Gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d/%d", h.Index, h.Gen)
}

type slot[T any] struct {
	item T
	gen  uint32
	used bool
}

// Arena is a fixed set of items. Free slots are tracked as a stack of free
// indices, so Pop and Push are O(1).
type Arena[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
}

// NewArena creates an arena of n items built by newItem.
func NewArena[T any](n int, newItem func(index int) T) *Arena[T] {
	a := &Arena[T]{
		slots: make([]slot[T], n),
		free:  make([]uint32, n),
	}
	for i := range a.slots {
		a.slots[i].item = newItem(i)
		// lowest index on top of the stack
		a.free[i] = uint32(n - 1 - i)
	}
	return a
}

// Cap returns the number of slots.
func (a *Arena[T]) Cap() int {
	return len(a.slots)
}

// InUse returns the number of taken slots.
func (a *Arena[T]) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}

// Pop takes a free slot.
func (a *Arena[T]) Pop() (Handle, T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero T
	if len(a.free) == 0 {
		return Handle{}, zero, false
	}
	idx := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	s := &a.slots[idx]
	s.used = true
	return Handle{Index: idx, Gen: s.gen}, s.item, true
}

// Push returns a slot. The handle becomes stale.
func (a *Arena[T]) Push(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	s.used = false
	s.gen++
	a.free = append(a.free, h.Index)
	return nil
}

// Get returns the item of a taken slot.
func (a *Arena[T]) Get(h Handle) (T, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero T
	s, err := a.lookup(h)
	if err != nil {
		return zero, err
	}
	return s.item, nil
}

// At returns the item at index regardless of its state. It fails only if
// the index is out of range.
func (a *Arena[T]) At(index int) (T, bool) {
	var zero T
	if index < 0 || index >= len(a.slots) {
		return zero, false
	}
	return a.slots[index].item, true
}

// Current returns the handle of a taken slot by index.
func (a *Arena[T]) Current(index int) (Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index < 0 || index >= len(a.slots) || !a.slots[index].used {
		return Handle{}, false
	}
	return Handle{Index: uint32(index), Gen: a.slots[index].gen}, true
}

func (a *Arena[T]) lookup(h Handle) (*slot[T], error) {
	if int(h.Index) >= len(a.slots) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	s := &a.slots[h.Index]
	if s.gen != h.Gen {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	if !s.used {
		return nil, fmt.Errorf("%w: %s", ErrDoubleFree, h)
	}
	return s, nil
}
