package allocator

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrBufferNotEmpty is raised when Reserve is called on a buffer that already owns storage.
var ErrBufferNotEmpty = errors.New("allocator: reserve on a non-empty buffer")

// Buffer is an append-only dynamic array whose storage comes from an Arena.
// The zero value is an empty buffer ready for Push or Reserve.
//
// Growth doubles the capacity (minimum 2). When the buffer's storage is the arena's most recent
// allocation it grows in place; otherwise a new block is allocated and the live elements are copied.
// The abandoned block is not reclaimed until the arena is reset.
type Buffer[T any] struct {
	data []T
	n    int
}

// Push appends a zeroed element and returns a pointer to it.
//
// Parameters:
//   - a: the arena backing this buffer
//
// Returns:
//   - *T: the new element slot, valid until the next growth
func (b *Buffer[T]) Push(a *Arena) *T {
	if b.n >= len(b.data) {
		b.grow(a)
	}
	p := &b.data[b.n]
	b.n++
	var zero T
	*p = zero
	return p
}

// Append pushes v onto the buffer.
func (b *Buffer[T]) Append(a *Arena, v T) {
	*b.Push(a) = v
}

// Reserve allocates storage for exactly capacity elements. The buffer must not own storage yet.
//
// Parameters:
//   - capacity: number of elements to reserve
//   - a: the arena to allocate from
func (b *Buffer[T]) Reserve(capacity int, a *Arena) {
	if len(b.data) != 0 {
		panic(ErrBufferNotEmpty)
	}
	b.data = AllocSlice[T](a, capacity)
	b.n = 0
}

func (b *Buffer[T]) grow(a *Arena) {
	checkPointerFree[T]()
	var zero T
	size, align := int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero))

	newCap := 2
	if len(b.data) > 0 {
		newCap = 2 * len(b.data)
	}

	old := bytesOf(b.data)
	var raw []byte
	if a.IsLast(old) {
		raw = a.Realloc(old, size*newCap, align)
	} else {
		raw = a.Alloc(size*newCap, align)
		copy(raw, old[:size*b.n])
	}
	b.data = viewAs[T](raw, newCap)
}

// Len returns the number of elements.
func (b *Buffer[T]) Len() int { return b.n }

// Cap returns the number of elements the current storage can hold.
func (b *Buffer[T]) Cap() int { return len(b.data) }

// Slice returns the live elements. The slice aliases arena memory.
func (b *Buffer[T]) Slice() []T { return b.data[:b.n] }

// At returns a pointer to element i.
func (b *Buffer[T]) At(i int) *T { return &b.data[:b.n][i] }

// Truncate shrinks the length to n. Storage is kept.
func (b *Buffer[T]) Truncate(n int) {
	if n < 0 || n > b.n {
		panic(fmt.Sprintf("allocator: truncate to %d, length %d", n, b.n))
	}
	b.n = n
}

// Clear drops every element but keeps the storage.
func (b *Buffer[T]) Clear() { b.n = 0 }

// RawBuffer is the untyped form of Buffer, for element layouts only known at runtime (vertex streams).
type RawBuffer struct {
	data     []byte
	n        int
	elemSize int
	align    int
}

// NewRawBuffer creates an empty buffer of elemSize-byte elements aligned to align.
//
// Parameters:
//   - elemSize: element size in bytes
//   - align: element alignment, a power of two
//
// Returns:
//   - RawBuffer: the empty buffer
func NewRawBuffer(elemSize, align int) RawBuffer {
	return RawBuffer{elemSize: elemSize, align: align}
}

// Push appends a zeroed element and returns its bytes.
func (b *RawBuffer) Push(a *Arena) []byte {
	if (b.n+1)*b.elemSize > len(b.data) {
		newCap := 2
		if len(b.data) > 0 {
			newCap = 2 * len(b.data) / b.elemSize
		}
		if a.IsLast(b.data) {
			b.data = a.Realloc(b.data, newCap*b.elemSize, b.align)
		} else {
			raw := a.Alloc(newCap*b.elemSize, b.align)
			copy(raw, b.data[:b.n*b.elemSize])
			b.data = raw
		}
	}
	off := b.n * b.elemSize
	b.n++
	out := b.data[off : off+b.elemSize : off+b.elemSize]
	clear(out)
	return out
}

// Reserve allocates storage for capacity elements. The buffer must not own storage yet.
func (b *RawBuffer) Reserve(capacity int, a *Arena) {
	if len(b.data) != 0 {
		panic(ErrBufferNotEmpty)
	}
	b.data = a.Alloc(capacity*b.elemSize, b.align)
	b.n = 0
}

// Len returns the number of elements.
func (b *RawBuffer) Len() int { return b.n }

// ElemSize returns the element size in bytes.
func (b *RawBuffer) ElemSize() int { return b.elemSize }

// Bytes returns the live elements as one contiguous byte slice.
func (b *RawBuffer) Bytes() []byte { return b.data[:b.n*b.elemSize] }

// Elem returns the bytes of element i.
func (b *RawBuffer) Elem(i int) []byte {
	off := i * b.elemSize
	return b.data[off : off+b.elemSize]
}
