// Package allocator provides the fixed-budget memory layer used by the renderer: a bump Arena over a
// fixed or virtually-reserved region, arena-backed growable Buffers, and fixed-capacity Pools that hand
// out stable integer indices.
//
// Arena memory is not scanned by the garbage collector, so only pointer-free types may be stored in it.
// The typed helpers (AllocSlice, AllocValue, NewPool, Buffer) enforce this at runtime.
package allocator

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

var (
	// ErrArenaExhausted is raised when a fixed-capacity arena cannot satisfy an allocation.
	ErrArenaExhausted = errors.New("allocator: arena exhausted")
	// ErrReservationExhausted is raised when a virtual-memory arena runs past its reserved range.
	ErrReservationExhausted = errors.New("allocator: virtual reservation exhausted")
	// ErrBadAlignment is raised when an alignment is not a positive power of two.
	ErrBadAlignment = errors.New("allocator: alignment must be a power of two")
	// ErrCommitFailed is raised when the OS refuses to commit pages of a virtual reservation.
	ErrCommitFailed = errors.New("allocator: failed to commit pages")
	// ErrPointerType is raised when a type holding Go pointers is placed in arena memory.
	ErrPointerType = errors.New("allocator: type contains pointers")
)

const (
	// DefaultCapacity is the capacity of a fixed arena built without WithCapacity (1 MiB).
	DefaultCapacity = 1 << 20

	// VirtualReserve is the address range reserved by a virtual-memory arena (4 GiB).
	VirtualReserve uint64 = 4 << 30

	// commitGranularity is the minimum page run committed at once in virtual mode.
	commitGranularity = 4 << 10
)

// Highmark is a shared cell recording the highest offset reached by an arena and all of its copies.
// For virtual arenas it is the committed boundary, so scoped copies never re-commit or skip pages.
// For fixed arenas it is the deepest cursor position seen, useful when sizing capacities.
type Highmark struct {
	offset atomic.Uint64
}

// Value returns the recorded high-water offset in bytes.
//
// Returns:
//   - int: the highest offset reached
func (h *Highmark) Value() int {
	return int(h.offset.Load())
}

func (h *Highmark) raise(v uintptr) {
	for {
		cur := h.offset.Load()
		if uint64(v) <= cur || h.offset.CompareAndSwap(cur, uint64(v)) {
			return
		}
	}
}

// Arena is a bump allocator over a contiguous region.
//
// An Arena is a small header and is meant to be copied by value: a copy is a scoped sub-arena whose
// allocations are released when the copy goes out of scope, while the original's cursor is untouched.
// All copies share the backing region and, when set, the Highmark.
//
// Arena is not safe for concurrent use.
type Arena struct {
	mem      *region
	curr     uintptr
	end      uintptr
	highmark *Highmark
	label    string
}

// NewArena creates an Arena with the provided options.
// By default the arena owns a 1 MiB fixed region on the Go heap.
//
// Parameters:
//   - options: functional options for arena configuration (capacity, virtual memory, highmark)
//
// Returns:
//   - Arena: the newly created arena
func NewArena(options ...ArenaBuilderOption) Arena {
	cfg := arenaConfig{capacity: DefaultCapacity}
	for _, opt := range options {
		opt(&cfg)
	}

	a := Arena{highmark: cfg.highmark, label: cfg.label}
	if cfg.virtual {
		r, err := reserveRegion(VirtualReserve)
		if err != nil {
			panic(fmt.Sprintf("allocator: failed to reserve %d bytes for arena %q: %v", VirtualReserve, cfg.label, err))
		}
		a.mem = r
		a.end = 0
	} else {
		if cfg.capacity <= 0 {
			cfg.capacity = DefaultCapacity
		}
		a.mem = heapRegion(cfg.capacity)
		a.end = uintptr(cfg.capacity)
	}
	return a
}

// Alloc returns a zeroed region of size bytes whose address is aligned to align.
// Running out of space is fatal and panics with ErrArenaExhausted (fixed mode) or
// ErrReservationExhausted (virtual mode).
//
// Parameters:
//   - size: number of bytes to allocate
//   - align: required alignment, a power of two
//
// Returns:
//   - []byte: the allocated region, with len and cap equal to size
func (a *Arena) Alloc(size, align int) []byte {
	if align <= 0 || align&(align-1) != 0 {
		panic(fmt.Errorf("%w: %d", ErrBadAlignment, align))
	}
	if size < 0 {
		panic(fmt.Errorf("%w: negative size %d", ErrArenaExhausted, size))
	}

	base := a.mem.base()
	start := alignUp(base+a.curr, uintptr(align)) - base
	stop := start + uintptr(size)

	if a.mem.virtual {
		if stop > uintptr(len(a.mem.data)) {
			panic(fmt.Errorf("%w: arena %q requested %d bytes at offset %d", ErrReservationExhausted, a.label, size, start))
		}
		a.commit(stop)
	} else if stop > a.end {
		panic(fmt.Errorf("%w: arena %q requested %d bytes, %d remaining", ErrArenaExhausted, a.label, size, a.end-a.curr))
	}

	a.curr = stop
	if a.highmark != nil && !a.mem.virtual {
		a.highmark.raise(stop)
	}

	out := a.mem.data[start:stop:stop]
	clear(out)
	return out
}

// commit makes every page up to stop readable and writable.
func (a *Arena) commit(stop uintptr) {
	committed := a.end
	if a.highmark != nil {
		committed = max(committed, uintptr(a.highmark.offset.Load()))
	}
	if stop <= committed {
		a.end = committed
		return
	}

	page := uintptr(max(commitGranularity, pageSize()))
	target := min(alignUp(stop, page), uintptr(len(a.mem.data)))
	if err := a.mem.commit(committed, target); err != nil {
		panic(fmt.Errorf("%w: arena %q [%d, %d): %v", ErrCommitFailed, a.label, committed, target, err))
	}
	a.end = target
	if a.highmark != nil {
		a.highmark.raise(target)
	}
}

// Realloc resizes old to newSize. When old is the most recent allocation the arena grows or shrinks it
// in place without copying; otherwise a new region is allocated and the old bytes are copied over.
// The old region is never reclaimed in the copying case.
//
// Parameters:
//   - old: a region previously returned by this arena (may be empty)
//   - newSize: the requested size in bytes
//   - align: required alignment for a fresh allocation
//
// Returns:
//   - []byte: the resized region
func (a *Arena) Realloc(old []byte, newSize, align int) []byte {
	if len(old) > 0 && a.IsLast(old) {
		start := a.offsetOf(old)
		if newSize <= len(old) {
			a.curr = start + uintptr(newSize)
			return a.mem.data[start:a.curr:a.curr]
		}
		a.Alloc(newSize-len(old), 1)
		return a.mem.data[start:a.curr:a.curr]
	}

	out := a.Alloc(newSize, align)
	copy(out, old)
	return out
}

// Free rewinds the cursor when b is the most recent allocation. Any other region is leaked until the
// next Reset; an arena only supports stack-ordered deallocation.
//
// Parameters:
//   - b: a region previously returned by this arena
func (a *Arena) Free(b []byte) {
	if len(b) == 0 || !a.IsLast(b) {
		return
	}
	a.curr = a.offsetOf(b)
}

// IsLast reports whether b ends exactly at the arena cursor.
func (a *Arena) IsLast(b []byte) bool {
	if len(b) == 0 || !a.Owns(unsafe.Pointer(unsafe.SliceData(b))) {
		return false
	}
	return a.offsetOf(b)+uintptr(len(b)) == a.curr
}

// Owns reports whether p points into the arena's backing region.
func (a *Arena) Owns(p unsafe.Pointer) bool {
	if a.mem == nil || len(a.mem.data) == 0 {
		return false
	}
	addr := uintptr(p)
	base := a.mem.base()
	return addr >= base && addr < base+uintptr(len(a.mem.data))
}

// Reset rewinds the cursor to the start of the region, releasing every allocation at once.
// Committed pages of a virtual arena stay committed.
func (a *Arena) Reset() {
	a.curr = 0
}

// Scoped returns a copy of the arena header. Allocations made through the copy do not move this
// arena's cursor.
//
// Returns:
//   - Arena: the scoped copy
func (a *Arena) Scoped() Arena {
	return *a
}

// Used returns the current cursor offset in bytes.
func (a *Arena) Used() int { return int(a.curr) }

// Cap returns the usable capacity in bytes: the fixed capacity or the virtual reservation.
func (a *Arena) Cap() int {
	if a.mem == nil {
		return 0
	}
	if a.mem.virtual {
		return len(a.mem.data)
	}
	return int(a.end)
}

// Remaining returns the number of bytes left before the arena is exhausted, ignoring alignment.
func (a *Arena) Remaining() int { return a.Cap() - a.Used() }

// Committed returns the number of bytes known to be committed, including pages committed through
// copies sharing the Highmark. For fixed arenas this is the capacity.
func (a *Arena) Committed() int {
	if a.Virtual() && a.highmark != nil {
		return max(int(a.end), a.highmark.Value())
	}
	return int(a.end)
}

// Peak returns the deepest cursor offset recorded in the Highmark by this arena or any copy of it. For
// a virtual arena that is the committed boundary. Without a Highmark it is the current cursor.
func (a *Arena) Peak() int {
	if a.highmark == nil {
		return a.Used()
	}
	return a.highmark.Value()
}

// Virtual reports whether the arena is backed by a virtual-memory reservation.
func (a *Arena) Virtual() bool { return a.mem != nil && a.mem.virtual }

// Label returns the arena's debug label.
func (a *Arena) Label() string { return a.label }

// Release unmaps a virtual reservation. Every copy of the arena becomes unusable afterwards.
// It is a no-op for fixed arenas.
//
// Returns:
//   - error: an error if the OS failed to unmap the region
func (a *Arena) Release() error {
	if a.mem == nil || !a.mem.virtual {
		return nil
	}
	if err := a.mem.release(); err != nil {
		return fmt.Errorf("release arena %q: %w", a.label, err)
	}
	a.curr, a.end = 0, 0
	return nil
}

func (a *Arena) offsetOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b))) - a.mem.base()
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
