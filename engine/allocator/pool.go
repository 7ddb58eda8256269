package allocator

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

var (
	// ErrPoolExhausted is raised when Alloc is called on a pool with no free slots.
	ErrPoolExhausted = errors.New("allocator: pool exhausted")
	// ErrForeignSlot is raised when an index does not belong to the pool.
	ErrForeignSlot = errors.New("allocator: slot does not belong to pool")
	// ErrDoubleFree is raised when a slot is freed while already free.
	ErrDoubleFree = errors.New("allocator: slot freed twice")
)

const nilIndex = math.MaxUint32

type slot[T any] struct {
	live  T
	next  uint32
	gen   uint32
	alive uint32
}

// Pool is a fixed-capacity array of T with O(1) allocation and release through an intrusive free list.
// Slots are identified by their index, which stays stable for the slot's lifetime.
//
// A freed slot goes to the head of the free list, so the next Alloc reuses it (LIFO). Every Free bumps
// the slot's generation counter, which callers fold into handles to detect stale references.
type Pool[T any] struct {
	slots    []slot[T]
	freeHead uint32
	count    int
}

// NewPool allocates a pool of capacity slots from the arena. Every slot starts free and the free list
// hands them out in index order.
//
// Parameters:
//   - capacity: number of slots, fixed for the pool's lifetime
//   - a: the arena that owns the slot array
//
// Returns:
//   - *Pool[T]: the new pool
func NewPool[T any](capacity int, a *Arena) *Pool[T] {
	if capacity <= 0 || uint64(capacity) >= nilIndex {
		panic(fmt.Sprintf("allocator: invalid pool capacity %d", capacity))
	}
	p := &Pool[T]{slots: AllocSlice[slot[T]](a, capacity)}
	for i := range p.slots {
		p.slots[i].next = uint32(i + 1)
	}
	p.slots[capacity-1].next = nilIndex
	p.freeHead = 0
	return p
}

// Alloc takes the head of the free list.
//
// Returns:
//   - uint32: the slot index
//   - *T: the zeroed slot value
func (p *Pool[T]) Alloc() (uint32, *T) {
	if p.freeHead == nilIndex {
		panic(fmt.Errorf("%w: capacity %d", ErrPoolExhausted, len(p.slots)))
	}
	idx := p.freeHead
	s := &p.slots[idx]
	p.freeHead = s.next
	s.next = nilIndex
	s.alive = 1
	var zero T
	s.live = zero
	p.count++
	return idx, &s.live
}

// Free returns slot idx to the pool.
//
// Parameters:
//   - idx: a slot index previously returned by Alloc
func (p *Pool[T]) Free(idx uint32) {
	if int(idx) >= len(p.slots) {
		panic(fmt.Errorf("%w: index %d, capacity %d", ErrForeignSlot, idx, len(p.slots)))
	}
	s := &p.slots[idx]
	if s.alive == 0 {
		panic(fmt.Errorf("%w: index %d", ErrDoubleFree, idx))
	}
	s.alive = 0
	s.gen++
	s.next = p.freeHead
	p.freeHead = idx
	p.count--
}

// At returns the value stored in slot idx, live or not.
func (p *Pool[T]) At(idx uint32) *T {
	return &p.slots[idx].live
}

// Alive reports whether slot idx is in range and allocated.
func (p *Pool[T]) Alive(idx uint32) bool {
	return int(idx) < len(p.slots) && p.slots[idx].alive != 0
}

// Generation returns the number of times slot idx has been freed.
func (p *Pool[T]) Generation(idx uint32) uint32 {
	return p.slots[idx].gen
}

// Cap returns the fixed slot count.
func (p *Pool[T]) Cap() int { return len(p.slots) }

// Count returns the number of allocated slots.
func (p *Pool[T]) Count() int { return p.count }

// Full reports whether the next Alloc would panic.
func (p *Pool[T]) Full() bool { return p.freeHead == nilIndex }

// All yields every live slot in index order.
func (p *Pool[T]) All() iter.Seq2[uint32, *T] {
	return func(yield func(uint32, *T) bool) {
		seen := 0
		for i := range p.slots {
			if seen == p.count {
				return
			}
			if p.slots[i].alive == 0 {
				continue
			}
			seen++
			if !yield(uint32(i), &p.slots[i].live) {
				return
			}
		}
	}
}
