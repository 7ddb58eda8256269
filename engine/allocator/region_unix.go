//go:build unix

package allocator

import (
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

// reserveRegion maps size bytes of address space with no access rights. Pages become usable only
// after commit, so untouched parts of the reservation cost no physical memory.
func reserveRegion(size uint64) (*region, error) {
	if size > uint64(math.MaxInt) {
		return nil, fmt.Errorf("reservation of %d bytes exceeds the address space", size)
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &region{data: data, virtual: true}, nil
}

func (r *region) commit(from, to uintptr) error {
	if to <= from {
		return nil
	}
	return unix.Mprotect(r.data[from:to], unix.PROT_READ|unix.PROT_WRITE)
}

func (r *region) release() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}
