package tlsf

import "unsafe"

// blockHeader is the metadata written into the first bytes of every free block.
// Allocated blocks carry no header at all: the header is absorbed into the
// allocation when the block is handed to the caller, and a fresh one is written
// when the block comes back through Dealloc.
//
// prevPhys is the address of the block immediately preceding this one in the
// managed region, or 0 if there is none. It is maintained on a best-effort
// basis (region registration, splits, and merges keep it current while the
// neighborhood stays free) but coalescing does not rely on it; see the side
// index in Allocator.
type blockHeader struct {
	size     int
	prevPhys uintptr
}

// freeBlockHeader extends blockHeader with the doubly linked free-list chain
// for the block's size class. Links are raw addresses, 0 if absent.
type freeBlockHeader struct {
	blockHeader
	nextFree uintptr
	prevFree uintptr
}

// headerSize is the in-memory footprint of a free block's metadata and
// therefore the minimum size of any block the allocator can manage.
const headerSize = int(unsafe.Sizeof(freeBlockHeader{}))

// headerAt is the single point where a raw address becomes a structured view of
// allocator-managed memory. Every header read and write in this package goes
// through it, keeping the unsafe surface centralized. The address must be the
// start of a live free block within a registered region.
func headerAt(addr uintptr) *freeBlockHeader {
	return (*freeBlockHeader)(unsafe.Pointer(addr))
}
