package allocator

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

// pointerFree caches the per-type result of hasPointers.
var pointerFree sync.Map

// checkPointerFree panics with ErrPointerType when T holds Go pointers. The garbage collector never
// scans arena memory, so a pointer stored there would not keep its target alive.
func checkPointerFree[T any]() {
	t := reflect.TypeFor[T]()
	if v, ok := pointerFree.Load(t); ok {
		if !v.(bool) {
			panic(fmt.Errorf("%w: %s", ErrPointerType, t))
		}
		return
	}
	free := !hasPointers(t)
	pointerFree.Store(t, free)
	if !free {
		panic(fmt.Errorf("%w: %s", ErrPointerType, t))
	}
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Slice, reflect.String,
		reflect.Interface, reflect.Chan, reflect.Func:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

// AllocSlice allocates n zeroed values of T from the arena.
// T must be pointer-free.
//
// Parameters:
//   - a: the arena to allocate from
//   - n: number of elements
//
// Returns:
//   - []T: a slice of length and capacity n backed by arena memory, or nil when n is 0
func AllocSlice[T any](a *Arena, n int) []T {
	checkPointerFree[T]()
	if n <= 0 {
		return nil
	}
	var zero T
	raw := a.Alloc(int(unsafe.Sizeof(zero))*n, int(unsafe.Alignof(zero)))
	return viewAs[T](raw, n)
}

// AllocValue allocates a single zeroed T from the arena.
//
// Parameters:
//   - a: the arena to allocate from
//
// Returns:
//   - *T: pointer into arena memory
func AllocValue[T any](a *Arena) *T {
	return &AllocSlice[T](a, 1)[0]
}

// ReallocSlice resizes s to n elements following Arena.Realloc semantics: in place when s is the most
// recent allocation, otherwise by copying.
//
// Parameters:
//   - a: the arena that produced s
//   - s: the slice to resize (its full capacity is treated as the old allocation)
//   - n: the new element count
//
// Returns:
//   - []T: the resized slice
func ReallocSlice[T any](a *Arena, s []T, n int) []T {
	checkPointerFree[T]()
	var zero T
	raw := a.Realloc(bytesOf(s[:cap(s)]), int(unsafe.Sizeof(zero))*n, int(unsafe.Alignof(zero)))
	return viewAs[T](raw, n)
}

func viewAs[T any](raw []byte, n int) []T {
	var zero T
	if unsafe.Sizeof(zero) == 0 || n == 0 {
		return make([]T, n)
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(raw))), n)
}

func bytesOf[T any](s []T) []byte {
	var zero T
	if len(s) == 0 || unsafe.Sizeof(zero) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}
