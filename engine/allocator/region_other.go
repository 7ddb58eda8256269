//go:build !unix

package allocator

import "errors"

var errNoVirtualMemory = errors.New("virtual memory arenas are not supported on this platform")

func reserveRegion(size uint64) (*region, error) {
	return nil, errNoVirtualMemory
}

func (r *region) commit(from, to uintptr) error {
	return errNoVirtualMemory
}

func (r *region) release() error {
	return nil
}
