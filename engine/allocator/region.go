package allocator

import (
	"os"
	"unsafe"
)

// region is the backing memory shared by an Arena and all of its copies.
type region struct {
	data    []byte
	virtual bool
}

func heapRegion(capacity int) *region {
	return &region{data: make([]byte, capacity)}
}

func (r *region) base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.data)))
}

func pageSize() int {
	return os.Getpagesize()
}
