// Package tlsf implements a two-level segregated-fit byte allocator over raw,
// caller-provided address ranges. Free blocks are classified by size into a
// first level (power-of-two magnitude) and a second level (32 subdivisions of
// that magnitude); a pair of bitmaps derived from the bucket matrix answers
// "smallest available block at or above this size" queries in constant time.
// All bookkeeping lives inside the managed memory itself; the allocator
// consumes no per-block auxiliary storage, at the cost of a minimum block size
// equal to the free-block header.
//
// The allocator is not safe for concurrent use. Callers that share an instance
// between threads of control must serialize access externally.
package tlsf

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/dolthub/swiss"
	"github.com/oskit/kmem"
	"github.com/pkg/errors"
)

const (
	alignmentShift = 3
	// Alignment is the allocator's internal granularity. Region starts are
	// aligned up to it, region and request sizes are rounded to it, and every
	// returned address is a multiple of it. Requests for stricter alignment
	// receive no additional guarantee.
	Alignment uint = 1 << alignmentShift

	slIndexCountLog2 = 5
	slIndexCount     = 1 << slIndexCountLog2
	flIndexCount     = 36 // block sizes up to 64 GiB

	// minBlockSize is the smallest block the allocator will create or hand
	// out. It must be able to host a freeBlockHeader when the block comes back
	// through Dealloc, and it keeps the second-level shift in sizeToSecondIndex
	// non-negative for every managed size.
	minBlockSize = 1 << slIndexCountLog2
)

// Allocator is a segregated-fit byte allocator. The zero value is not usable;
// construct with New, register memory with Init (and optionally AddMemory),
// then allocate with Alloc/Dealloc.
type Allocator struct {
	flBitmap  uint64
	slBitmap  [flIndexCount]uint32
	freeLists [flIndexCount][slIndexCount]uintptr

	// Address-keyed side index over the free blocks, maintained exclusively by
	// insertFreeBlock/removeFreeBlock. Allocated blocks have no header, so a
	// freed block's physical neighbors cannot be probed by reading memory;
	// these maps answer "is the range starting (or ending) at this address a
	// free block" for coalescing without touching unverified addresses.
	freeStarts *swiss.Map[uintptr, int]     // block start -> block size
	freeEnds   *swiss.Map[uintptr, uintptr] // block end -> block start

	regionCount int
	allocCount  int
	totalMemory int
	usedMemory  int
}

var _ kmem.ByteAllocator = (*Allocator)(nil)
var _ kmem.Validatable = (*Allocator)(nil)

func New() *Allocator {
	return &Allocator{
		freeStarts: swiss.NewMap[uintptr, int](64),
		freeEnds:   swiss.NewMap[uintptr, uintptr](64),
	}
}

func sizeToFirstIndex(size int) int {
	return bits.Len64(uint64(size)) - 1
}

func sizeToSecondIndex(size, fl int) int {
	return int((uint64(size) >> uint(fl-slIndexCountLog2)) & (slIndexCount - 1))
}

// sizeFitsIndex reports whether a block of the given size can be filed in the
// two-level index.
func sizeFitsIndex(size int) bool {
	return sizeToFirstIndex(size) < flIndexCount
}

// roundAllocSize maps a requested size to the size the allocator actually
// tracks for it. Alloc and Dealloc must agree on this for the accounting to
// round-trip.
func roundAllocSize(size int) int {
	size = kmem.AlignUp(size, Alignment)
	if size < minBlockSize {
		size = minBlockSize
	}
	return size
}

// Init registers the allocator's first memory region and resets all state.
// The region start is aligned up and its size down to the allocator's
// granularity; the region must still be able to host one free-block header
// after alignment or an error is returned and no memory is registered.
func (a *Allocator) Init(start uintptr, size int) error {
	a.flBitmap = 0
	a.slBitmap = [flIndexCount]uint32{}
	a.freeLists = [flIndexCount][slIndexCount]uintptr{}
	a.freeStarts = swiss.NewMap[uintptr, int](64)
	a.freeEnds = swiss.NewMap[uintptr, uintptr](64)
	a.regionCount = 0
	a.allocCount = 0
	a.totalMemory = 0
	a.usedMemory = 0

	return a.AddMemory(start, size)
}

// AddMemory contributes an additional region, growing capacity without
// resetting counters. The caller may do this at any point after Init, usually
// in response to ErrOutOfMemory.
func (a *Allocator) AddMemory(start uintptr, size int) error {
	alignedStart := kmem.AlignUp(start, Alignment)
	alignedSize := kmem.AlignDown(size-int(alignedStart-start), Alignment)

	if alignedSize < minBlockSize {
		return errors.Errorf("region of %d bytes at %#x cannot host a free block header after alignment", size, start)
	}
	if !sizeFitsIndex(alignedSize) {
		return errors.Errorf("region of %d bytes exceeds the largest supported block size", size)
	}

	a.insertFreeBlock(alignedStart, alignedSize, 0)
	a.regionCount++
	a.totalMemory += alignedSize
	return nil
}

// Alloc returns the address of a block with capacity for at least size bytes.
// The requested size is rounded up to the allocator's granularity (and to the
// minimum block size); the rounded size is what UsedBytes accounts for and
// what Dealloc must be given back.
//
// alignment must be a power of two. Returned addresses are always aligned to
// the internal 8-byte granularity; alignments stricter than that are not
// honored by this allocator.
//
// The only failure modes are an invalid size and ErrOutOfMemory, both returned
// without mutating allocator state.
func (a *Allocator) Alloc(size int, alignment uint) (uintptr, error) {
	if size < 1 {
		return 0, errors.Errorf("invalid allocation size: %d", size)
	}
	kmem.DebugCheckPow2(alignment, "allocation alignment")
	kmem.DebugValidate(a)

	rounded := roundAllocSize(size)

	addr, ok := a.findSuitableBlock(rounded)
	if !ok {
		return 0, kmem.ErrOutOfMemory
	}

	blockSize := headerAt(addr).size
	if blockSize < rounded {
		panic(fmt.Sprintf("free index returned a %d-byte block for a %d-byte request", blockSize, rounded))
	}
	a.removeFreeBlock(addr)

	// Carve off the tail as its own free block when it can host a header.
	// A smaller remainder could never be reallocated and stays absorbed in
	// the returned block; those bytes are unrecoverable for the block's
	// lifetime and are not counted as used.
	if blockSize-rounded >= headerSize {
		tail := addr + uintptr(rounded)
		a.insertFreeBlock(tail, blockSize-rounded, addr)
		a.fixupPrevPhys(addr+uintptr(blockSize), tail)
	}

	a.allocCount++
	a.usedMemory += rounded
	return addr, nil
}

// Dealloc releases a block previously returned by Alloc. addr and size must
// match the original request (alignment is accepted for contract symmetry; the
// rounding it influences is fixed at the internal granularity). The freed
// range is merged with free physical neighbors before it is reindexed, so
// fragmentation stays bounded over long allocator lifetimes.
func (a *Allocator) Dealloc(addr uintptr, size int, alignment uint) {
	kmem.DebugValidate(a)

	rounded := roundAllocSize(size)

	start := addr
	blockSize := rounded
	var prevPhys uintptr

	// Neighbors from physically adjacent registered regions can merge into a
	// block larger than the index can file; such neighbors stay separate free
	// blocks.
	if succSize, ok := a.freeStarts.Get(addr + uintptr(rounded)); ok && sizeFitsIndex(blockSize+succSize) {
		a.removeFreeBlock(addr + uintptr(rounded))
		blockSize += succSize
	}
	if predStart, ok := a.freeEnds.Get(addr); ok {
		pred := headerAt(predStart)
		if sizeFitsIndex(blockSize + pred.size) {
			prevPhys = pred.prevPhys
			blockSize += pred.size
			a.removeFreeBlock(predStart)
			start = predStart
		}
	}

	a.insertFreeBlock(start, blockSize, prevPhys)
	a.fixupPrevPhys(start+uintptr(blockSize), start)

	a.allocCount--
	a.usedMemory -= rounded
}

// TotalBytes reports the total number of bytes under management.
func (a *Allocator) TotalBytes() int {
	return a.totalMemory
}

// UsedBytes reports the number of bytes currently allocated.
func (a *Allocator) UsedBytes() int {
	return a.usedMemory
}

// AvailableBytes reports the number of bytes available for allocation.
func (a *Allocator) AvailableBytes() int {
	return a.totalMemory - a.usedMemory
}

// findSuitableBlock locates a free block of at least size bytes, or reports
// that none exists. size must already be rounded.
func (a *Allocator) findSuitableBlock(size int) (uintptr, bool) {
	// Round the search size up to the next class boundary first: every block
	// in the bucket located from the rounded size is guaranteed to fit, making
	// the common path a pure bitmap lookup.
	fl := sizeToFirstIndex(size)
	if fl >= flIndexCount {
		return 0, false
	}
	searchSize := size + (1 << uint(fl-slIndexCountLog2)) - 1
	if addr, ok := a.findFreeList(searchSize); ok {
		return addr, true
	}

	// The rounded search can step over a block in the request's own bucket
	// that fits exactly (e.g. the remainder of an earlier split). Scan that
	// one chain before giving up.
	sl := sizeToSecondIndex(size, fl)
	for addr := a.freeLists[fl][sl]; addr != 0; addr = headerAt(addr).nextFree {
		if headerAt(addr).size >= size {
			return addr, true
		}
	}

	return 0, false
}

// findFreeList finds the non-empty bucket with the lowest class at or above
// size's class and returns its head block.
func (a *Allocator) findFreeList(size int) (uintptr, bool) {
	fl := sizeToFirstIndex(size)
	if fl >= flIndexCount {
		return 0, false
	}

	slMap := a.slBitmap[fl] & (math.MaxUint32 << uint(sizeToSecondIndex(size, fl)))
	if slMap == 0 {
		// Check higher classes for available blocks
		flMap := a.flBitmap & (math.MaxUint64 << uint(fl+1))
		if flMap == 0 {
			return 0, false
		}

		fl = bits.TrailingZeros64(flMap)
		slMap = a.slBitmap[fl]
		if slMap == 0 {
			panic("first-level bitmap is in an invalid state")
		}
	}

	sl := bits.TrailingZeros32(slMap)
	addr := a.freeLists[fl][sl]
	if addr == 0 {
		panic(fmt.Sprintf("free list (%d, %d) was marked non-empty but has no blocks", fl, sl))
	}

	return addr, true
}

// insertFreeBlock writes a free-block header at addr and links the block at
// the head of its size class, keeping both bitmaps and the side index in step.
// It and removeFreeBlock are the only mutators of the free-list structure.
func (a *Allocator) insertFreeBlock(addr uintptr, size int, prevPhys uintptr) {
	fl := sizeToFirstIndex(size)
	sl := sizeToSecondIndex(size, fl)

	h := headerAt(addr)
	h.size = size
	h.prevPhys = prevPhys
	h.prevFree = 0
	h.nextFree = a.freeLists[fl][sl]
	if h.nextFree != 0 {
		headerAt(h.nextFree).prevFree = addr
	}
	a.freeLists[fl][sl] = addr
	a.slBitmap[fl] |= 1 << uint(sl)
	a.flBitmap |= 1 << uint(fl)

	a.freeStarts.Put(addr, size)
	a.freeEnds.Put(addr+uintptr(size), addr)
}

// removeFreeBlock unlinks the free block at addr from its size class, clearing
// the second-level bit if the bucket empties and the first-level bit if the
// whole row empties.
func (a *Allocator) removeFreeBlock(addr uintptr) {
	h := headerAt(addr)
	fl := sizeToFirstIndex(h.size)
	sl := sizeToSecondIndex(h.size, fl)

	if h.nextFree != 0 {
		headerAt(h.nextFree).prevFree = h.prevFree
	}
	if h.prevFree != 0 {
		headerAt(h.prevFree).nextFree = h.nextFree
	} else {
		if a.freeLists[fl][sl] != addr {
			panic(fmt.Sprintf("free block at %#x was not at the expected position in bucket (%d, %d)", addr, fl, sl))
		}
		a.freeLists[fl][sl] = h.nextFree
		if h.nextFree == 0 {
			a.slBitmap[fl] &^= 1 << uint(sl)
			if a.slBitmap[fl] == 0 {
				a.flBitmap &^= 1 << uint(fl)
			}
		}
	}

	a.freeStarts.Delete(addr)
	a.freeEnds.Delete(addr + uintptr(h.size))
}

// fixupPrevPhys repoints the physical back-link of the free block starting at
// neighbor, if there is one. No-op when that address is allocated or outside
// any registered region.
func (a *Allocator) fixupPrevPhys(neighbor uintptr, newPrev uintptr) {
	if _, ok := a.freeStarts.Get(neighbor); ok {
		headerAt(neighbor).prevPhys = newPrev
	}
}

// Validate performs internal consistency checks on the free-list index. When
// the allocator is functioning correctly it cannot return an error; it exists
// to diagnose implementation bugs and runs on every operation under the
// debug_kmem build tag.
func (a *Allocator) Validate() error {
	var freeCount, freeBytes int

	for fl := 0; fl < flIndexCount; fl++ {
		if a.flBitmap&(1<<uint(fl)) != 0 && a.slBitmap[fl] == 0 {
			return errors.Errorf("first-level bit %d is set but the row's second-level bitmap is empty", fl)
		}
		if a.flBitmap&(1<<uint(fl)) == 0 && a.slBitmap[fl] != 0 {
			return errors.Errorf("first-level bit %d is clear but the row's second-level bitmap is not empty", fl)
		}

		for sl := 0; sl < slIndexCount; sl++ {
			head := a.freeLists[fl][sl]
			if a.slBitmap[fl]&(1<<uint(sl)) != 0 && head == 0 {
				return errors.Errorf("second-level bit (%d, %d) is set but the bucket is empty", fl, sl)
			}
			if a.slBitmap[fl]&(1<<uint(sl)) == 0 && head != 0 {
				return errors.Errorf("second-level bit (%d, %d) is clear but the bucket is not empty", fl, sl)
			}

			prev := uintptr(0)
			for addr := head; addr != 0; addr = headerAt(addr).nextFree {
				h := headerAt(addr)

				if h.prevFree != prev {
					return errors.Errorf("free block at %#x has a broken back reference in bucket (%d, %d)", addr, fl, sl)
				}

				blockFL := sizeToFirstIndex(h.size)
				blockSL := sizeToSecondIndex(h.size, blockFL)
				if blockFL != fl || blockSL != sl {
					return errors.Errorf("free block at %#x of size %d is filed in bucket (%d, %d) but classifies as (%d, %d)", addr, h.size, fl, sl, blockFL, blockSL)
				}

				indexedSize, ok := a.freeStarts.Get(addr)
				if !ok {
					return errors.Errorf("free block at %#x is missing from the start index", addr)
				}
				if indexedSize != h.size {
					return errors.Errorf("free block at %#x has size %d but the start index records %d", addr, h.size, indexedSize)
				}
				indexedStart, ok := a.freeEnds.Get(addr + uintptr(h.size))
				if !ok || indexedStart != addr {
					return errors.Errorf("free block at %#x is missing from or mismatched in the end index", addr)
				}

				freeCount++
				freeBytes += h.size
				prev = addr
			}
		}
	}

	if freeCount != a.freeStarts.Count() {
		return errors.Errorf("counted %d free blocks but the start index holds %d entries", freeCount, a.freeStarts.Count())
	}
	if freeCount != a.freeEnds.Count() {
		return errors.Errorf("counted %d free blocks but the end index holds %d entries", freeCount, a.freeEnds.Count())
	}
	// Sub-header remainders absorbed into allocations are neither free-listed
	// nor counted as used, so the free side may undershoot the counters but
	// never exceed them.
	if freeBytes > a.totalMemory-a.usedMemory {
		return errors.Errorf("free blocks add up to %d bytes, but the counters report %d total and %d used", freeBytes, a.totalMemory, a.usedMemory)
	}

	return nil
}
