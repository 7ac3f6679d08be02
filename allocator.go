package kmem

// BaseAllocator is the region-registration surface shared by every allocator in this
// module. An allocator is handed raw (start, size) address ranges that it may freely
// read and write for its own lifetime; the memory must remain mapped and otherwise
// unused by the caller.
//
// Allocators are plain data structures, not concurrent services. Callers that share an
// allocator between threads of control must serialize access externally.
type BaseAllocator interface {
	// Init must be called exactly once before any other operation. It registers the
	// allocator's first memory region and resets all accounting.
	Init(start uintptr, size int) error
	// AddMemory contributes an additional region after Init, growing capacity without
	// resetting counters. Implementations that manage a single fixed range return an
	// error instead.
	AddMemory(start uintptr, size int) error
}

// ByteAllocator is implemented by allocators that serve byte-granular requests.
type ByteAllocator interface {
	BaseAllocator

	// Alloc returns the address of a block with capacity of at least size bytes.
	// alignment must be a power of two. The only failure mode is ErrOutOfMemory,
	// returned without mutating allocator state.
	Alloc(size int, alignment uint) (uintptr, error)
	// Dealloc releases a block previously returned by Alloc. addr, size and alignment
	// must match the original request; passing anything else is a precondition
	// violation.
	Dealloc(addr uintptr, size int, alignment uint)

	// TotalBytes reports the total number of bytes under management.
	TotalBytes() int
	// UsedBytes reports the number of bytes currently allocated.
	UsedBytes() int
	// AvailableBytes reports the number of bytes available for allocation.
	AvailableBytes() int
}

// PageAllocator is implemented by allocators that serve fixed-size page runs.
type PageAllocator interface {
	// PageSize reports the size of one page in bytes.
	PageSize() int

	// AllocPages returns the base address of a run of count contiguous pages, aligned
	// to 1<<alignPow2 bytes. The only failure mode is ErrOutOfMemory, returned without
	// mutating allocator state.
	AllocPages(count int, alignPow2 uint) (uintptr, error)
	// DeallocPages releases a page run previously returned by AllocPages. addr and
	// count must match the original request.
	DeallocPages(addr uintptr, count int)

	TotalPages() int
	UsedPages() int
	AvailablePages() int
}
