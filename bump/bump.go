// Package bump implements a dual-end bootstrap allocator over a single raw
// address range, for use before a real byte allocator has memory for its own
// bookkeeping. Bytes are bumped forward from the low end and pages backward
// from the high end, with a shrinking gap between the two cursors:
//
//	[ bytes-used | available | pages-used ]
//	start       bytePos     pagePos      end
//
// Deallocation follows a stack discipline on both ends: only the most recent
// allocation can be reclaimed, anything else is a silent no-op. That space is
// permanently unrecoverable through this allocator, which is acceptable for
// its short bootstrap lifetime.
//
// The allocator is not safe for concurrent use.
package bump

import (
	"github.com/oskit/kmem"
	"github.com/pkg/errors"
)

// Allocator is a dual-end bump allocator. Construct with New, register the
// managed range with Init.
type Allocator struct {
	pageSize int

	start   uintptr
	end     uintptr
	bytePos uintptr
	pagePos uintptr

	// Live byte allocations, kept for statistics only. Reclaim stays purely
	// stack-disciplined regardless of this count.
	allocCount int
}

var _ kmem.ByteAllocator = (*Allocator)(nil)
var _ kmem.PageAllocator = (*Allocator)(nil)
var _ kmem.Validatable = (*Allocator)(nil)

// New creates an allocator serving pages of pageSize bytes, which must be a
// power of two.
func New(pageSize int) (*Allocator, error) {
	err := kmem.CheckPow2(pageSize, "page size")
	if err != nil {
		return nil, err
	}

	return &Allocator{pageSize: pageSize}, nil
}

// Init registers the single address range this allocator manages and resets
// both cursors.
func (a *Allocator) Init(start uintptr, size int) error {
	if size < 1 {
		return errors.Errorf("invalid region size: %d", size)
	}

	a.start = start
	a.end = start + uintptr(size)
	a.bytePos = a.start
	a.pagePos = a.end
	return nil
}

// AddMemory always fails: the allocator manages exactly one contiguous range,
// and a disjoint region cannot be folded into the cursor arithmetic.
func (a *Allocator) AddMemory(start uintptr, size int) error {
	return errors.New("bump allocator manages a single region and cannot accept more memory")
}

// PageSize reports the size of one page in bytes.
func (a *Allocator) PageSize() int {
	return a.pageSize
}

// Alloc bumps the byte cursor forward, aligning it up first. alignment must be
// a power of two. Fails with ErrOutOfMemory, without moving the cursor, when
// the allocation would cross into the page area.
func (a *Allocator) Alloc(size int, alignment uint) (uintptr, error) {
	if size < 1 {
		return 0, errors.Errorf("invalid allocation size: %d", size)
	}
	kmem.DebugCheckPow2(alignment, "allocation alignment")

	pos := kmem.AlignUp(a.bytePos, alignment)
	end := pos + uintptr(size)
	if end > a.pagePos {
		return 0, kmem.ErrOutOfMemory
	}

	a.bytePos = end
	a.allocCount++
	return pos, nil
}

// Dealloc rewinds the byte cursor when the freed block is the most recent byte
// allocation; freeing anything earlier is a no-op.
func (a *Allocator) Dealloc(addr uintptr, size int, alignment uint) {
	if addr+uintptr(size) == a.bytePos {
		a.bytePos = addr
	}
	// The count is statistics-only; a stray double-free must not drive it
	// negative.
	if a.allocCount > 0 {
		a.allocCount--
	}
}

// AllocPages bumps the page cursor backward by count pages, aligning it down
// to 1<<alignPow2 bytes first, and returns the new cursor as the base of the
// run. Fails with ErrOutOfMemory, without moving the cursor, when the run
// would cross into the byte area.
func (a *Allocator) AllocPages(count int, alignPow2 uint) (uintptr, error) {
	if count < 1 {
		return 0, errors.Errorf("invalid page count: %d", count)
	}

	span := uintptr(count * a.pageSize)
	posEnd := kmem.AlignDown(a.pagePos, uint(1)<<alignPow2)
	if posEnd < a.bytePos || posEnd-a.bytePos < span {
		return 0, kmem.ErrOutOfMemory
	}

	a.pagePos = posEnd - span
	return a.pagePos, nil
}

// DeallocPages unwinds the page cursor when the freed run is the most recent
// page allocation (its base is the current cursor); freeing anything else is a
// no-op. Pages are conceptually never freed in normal use; this path exists
// for stack-like unwinding only.
func (a *Allocator) DeallocPages(addr uintptr, count int) {
	if addr == a.pagePos {
		a.pagePos = addr + uintptr(count*a.pageSize)
	}
}

// TotalBytes reports the size of the managed range.
func (a *Allocator) TotalBytes() int {
	return int(a.end - a.start)
}

// UsedBytes reports the size of the byte area.
func (a *Allocator) UsedBytes() int {
	return int(a.bytePos - a.start)
}

// AvailableBytes reports the size of the gap between the two cursors.
func (a *Allocator) AvailableBytes() int {
	return int(a.pagePos - a.bytePos)
}

// TotalPages reports how many pages fit between the byte cursor and the end of
// the range.
func (a *Allocator) TotalPages() int {
	return int(a.end-a.bytePos) / a.pageSize
}

// UsedPages reports the number of allocated pages.
func (a *Allocator) UsedPages() int {
	return int(a.end-a.pagePos) / a.pageSize
}

// AvailablePages reports how many pages fit in the gap between the two
// cursors.
func (a *Allocator) AvailablePages() int {
	return int(a.pagePos-a.bytePos) / a.pageSize
}

// Validate checks the cursor ordering invariant. It cannot fail when the
// allocator is functioning correctly.
func (a *Allocator) Validate() error {
	if a.start > a.bytePos || a.bytePos > a.pagePos || a.pagePos > a.end {
		return errors.Errorf("cursor invariant violated: start=%#x bytePos=%#x pagePos=%#x end=%#x", a.start, a.bytePos, a.pagePos, a.end)
	}
	return nil
}
