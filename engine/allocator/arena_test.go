package allocator

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func TestArena_New(t *testing.T) {
	t.Run("default capacity", func(t *testing.T) {
		a := NewArena()
		assert.Equal(t, DefaultCapacity, a.Cap())
		assert.Equal(t, 0, a.Used())
		assert.False(t, a.Virtual())
	})

	t.Run("custom capacity and label", func(t *testing.T) {
		a := NewArena(WithCapacity(4096), WithLabel("scratch"))
		assert.Equal(t, 4096, a.Cap())
		assert.Equal(t, 4096, a.Remaining())
		assert.Equal(t, "scratch", a.Label())
	})
}

func TestArena_Alloc(t *testing.T) {
	t.Run("monotonic aligned and disjoint", func(t *testing.T) {
		a := NewArena(WithCapacity(1 << 16))
		sizes := []int{1, 3, 17, 64, 5, 128}
		aligns := []int{1, 8, 16, 64, 4, 32}

		var prevEnd uintptr
		for i := range sizes {
			b := a.Alloc(sizes[i], aligns[i])
			require.Len(t, b, sizes[i])
			assert.Zero(t, addr(b)%uintptr(aligns[i]), "allocation %d misaligned", i)
			if i > 0 {
				assert.GreaterOrEqual(t, addr(b), prevEnd, "allocation %d overlaps its predecessor", i)
			}
			prevEnd = addr(b) + uintptr(len(b))
		}
	})

	t.Run("zeroed after reset", func(t *testing.T) {
		a := NewArena(WithCapacity(256))
		b := a.Alloc(64, 8)
		for i := range b {
			b[i] = 0xff
		}
		a.Reset()
		b = a.Alloc(64, 8)
		for i, v := range b {
			require.Zero(t, v, "byte %d not cleared", i)
		}
	})

	t.Run("bad alignment", func(t *testing.T) {
		a := NewArena(WithCapacity(256))
		requirePanicIs(t, ErrBadAlignment, func() { a.Alloc(8, 3) })
		requirePanicIs(t, ErrBadAlignment, func() { a.Alloc(8, 0) })
	})

	t.Run("exhaustion", func(t *testing.T) {
		a := NewArena(WithCapacity(128))
		a.Alloc(100, 1)
		requirePanicIs(t, ErrArenaExhausted, func() { a.Alloc(64, 1) })
	})

	t.Run("highmark tracks deepest cursor", func(t *testing.T) {
		var hm Highmark
		a := NewArena(WithCapacity(1024), WithHighmark(&hm))
		a.Alloc(300, 1)
		a.Reset()
		a.Alloc(10, 1)
		assert.Equal(t, 300, hm.Value())
	})

	t.Run("scoped copies share the peak", func(t *testing.T) {
		var hm Highmark
		a := NewArena(WithCapacity(1024), WithHighmark(&hm))
		assert.Zero(t, a.Peak())

		scoped := a.Scoped()
		scoped.Alloc(200, 1)
		assert.Zero(t, a.Used())
		assert.Equal(t, 200, a.Peak())

		scoped = a.Scoped()
		scoped.Alloc(50, 1)
		assert.Equal(t, 200, a.Peak())

		plain := NewArena(WithCapacity(64))
		plain.Alloc(8, 1)
		assert.Equal(t, 8, plain.Peak())
	})
}

func TestArena_Free(t *testing.T) {
	a := NewArena(WithCapacity(1024))
	first := a.Alloc(16, 8)
	second := a.Alloc(16, 8)

	a.Free(first)
	third := a.Alloc(16, 8)
	assert.NotEqual(t, addr(first), addr(third), "freeing a non-tail block must not rewind")

	a.Free(third)
	fourth := a.Alloc(16, 8)
	assert.Equal(t, addr(third), addr(fourth), "freeing the tail block must rewind")
	assert.NotEqual(t, addr(second), addr(fourth))
}

func TestArena_Realloc(t *testing.T) {
	t.Run("tail grows in place", func(t *testing.T) {
		a := NewArena(WithCapacity(1024))
		b := a.Alloc(16, 8)
		b[0] = 7
		grown := a.Realloc(b, 48, 8)
		assert.Equal(t, addr(b), addr(grown))
		assert.Len(t, grown, 48)
		assert.Equal(t, byte(7), grown[0])
		assert.Equal(t, 48, a.Used())
	})

	t.Run("tail shrinks in place", func(t *testing.T) {
		a := NewArena(WithCapacity(1024))
		b := a.Alloc(64, 8)
		shrunk := a.Realloc(b, 8, 8)
		assert.Equal(t, addr(b), addr(shrunk))
		assert.Equal(t, 8, a.Used())
	})

	t.Run("non tail copies", func(t *testing.T) {
		a := NewArena(WithCapacity(1024))
		b := a.Alloc(16, 8)
		copy(b, "0123456789abcdef")
		a.Alloc(8, 8)
		moved := a.Realloc(b, 32, 8)
		assert.NotEqual(t, addr(b), addr(moved))
		assert.Equal(t, "0123456789abcdef", string(moved[:16]))
	})
}

func TestArena_Scoped(t *testing.T) {
	a := NewArena(WithCapacity(1024))
	a.Alloc(32, 8)

	func() {
		scope := a.Scoped()
		scope.Alloc(512, 8)
		assert.Equal(t, 544, scope.Used())
		assert.True(t, scope.Owns(unsafe.Pointer(unsafe.SliceData(scope.Alloc(1, 1)))))
	}()

	assert.Equal(t, 32, a.Used())
	next := a.Alloc(8, 8)
	assert.Equal(t, uintptr(32), a.offsetOf(next))
}

func TestArena_Owns(t *testing.T) {
	a := NewArena(WithCapacity(64))
	b := a.Alloc(8, 8)
	outside := make([]byte, 8)
	assert.True(t, a.Owns(unsafe.Pointer(&b[0])))
	assert.False(t, a.Owns(unsafe.Pointer(&outside[0])))
}

func TestAllocSlice(t *testing.T) {
	type vertex struct {
		Pos   [3]float32
		Color [4]uint8
	}

	t.Run("typed view over arena memory", func(t *testing.T) {
		a := NewArena(WithCapacity(1024))
		vs := AllocSlice[vertex](&a, 4)
		require.Len(t, vs, 4)
		vs[3].Pos[2] = 1.5
		assert.True(t, a.Owns(unsafe.Pointer(&vs[3])))
		assert.Equal(t, 4*int(unsafe.Sizeof(vertex{})), a.Used())
	})

	t.Run("zero length", func(t *testing.T) {
		a := NewArena(WithCapacity(64))
		assert.Nil(t, AllocSlice[uint32](&a, 0))
		assert.Equal(t, 0, a.Used())
	})

	t.Run("value", func(t *testing.T) {
		a := NewArena(WithCapacity(64))
		v := AllocValue[[4]float32](&a)
		v[1] = 2
		assert.Equal(t, float32(2), v[1])
	})

	t.Run("realloc keeps contents", func(t *testing.T) {
		a := NewArena(WithCapacity(1024))
		s := AllocSlice[uint32](&a, 2)
		s[0], s[1] = 10, 20
		s = ReallocSlice(&a, s, 6)
		require.Len(t, s, 6)
		assert.Equal(t, []uint32{10, 20, 0, 0, 0, 0}, s)
	})

	t.Run("pointer types rejected", func(t *testing.T) {
		a := NewArena(WithCapacity(1024))
		requirePanicIs(t, ErrPointerType, func() { AllocSlice[*int](&a, 1) })
		requirePanicIs(t, ErrPointerType, func() { AllocSlice[string](&a, 1) })
		requirePanicIs(t, ErrPointerType, func() {
			AllocSlice[struct {
				N    int
				Tags []byte
			}](&a, 1)
		})
	})
}
