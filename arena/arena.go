// Package arena reserves raw address ranges for the allocators in this module
// to manage. In a kernel deployment ranges come straight from the physical
// memory map; this package provides the equivalent for hosted programs and for
// the module's own tests, preferring memory outside the Go heap so the runtime
// never observes the allocators' in-place metadata writes.
package arena

import "unsafe"

// An Arena is a contiguous address range owned by the caller until Release is
// called. The range is page-aligned when backed by the operating system.
type Arena struct {
	buf    []byte
	mapped bool
}

// Base returns the first address of the range.
func (a *Arena) Base() uintptr {
	return uintptr(unsafe.Pointer(&a.buf[0]))
}

// Size returns the length of the range in bytes.
func (a *Arena) Size() int {
	return len(a.buf)
}
