package bump_test

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/oskit/kmem"
	"github.com/oskit/kmem/arena"
	"github.com/oskit/kmem/bump"
	"github.com/stretchr/testify/require"
)

const pageSize = 4096

func newAllocator(t *testing.T, regionSize int) (*bump.Allocator, *arena.Arena) {
	t.Helper()

	mem, err := arena.Reserve(regionSize)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mem.Release())
	})

	a, err := bump.New(pageSize)
	require.NoError(t, err)
	require.NoError(t, a.Init(mem.Base(), regionSize))

	return a, mem
}

func TestNewRejectsBadPageSize(t *testing.T) {
	_, err := bump.New(3000)
	require.ErrorIs(t, err, kmem.PowerOfTwoError)

	_, err = bump.New(0)
	require.ErrorIs(t, err, kmem.PowerOfTwoError)
}

func TestAddMemoryUnsupported(t *testing.T) {
	a, mem := newAllocator(t, 1<<20)
	require.Error(t, a.AddMemory(mem.Base(), 4096))
}

func TestScenario(t *testing.T) {
	const regionSize = 1 << 20

	a, mem := newAllocator(t, regionSize)
	end := mem.Base() + regionSize

	require.Equal(t, regionSize, a.TotalBytes())
	require.Equal(t, 0, a.UsedBytes())
	require.Equal(t, regionSize, a.AvailableBytes())
	require.Equal(t, regionSize/pageSize, a.TotalPages())
	require.NoError(t, a.Validate())

	pages, err := a.AllocPages(10, 12)
	require.NoError(t, err)
	require.Equal(t, end-10*pageSize, pages)
	require.Equal(t, 10, a.UsedPages())
	require.NoError(t, a.Validate())

	addr, err := a.Alloc(4096, 8)
	require.NoError(t, err)
	require.Equal(t, mem.Base(), addr)
	require.Equal(t, 4096, a.UsedBytes())
	require.Equal(t, regionSize-4096-10*pageSize, a.AvailableBytes())
	require.NoError(t, a.Validate())

	// Close the gap entirely with pages, then byte allocation must fail.
	_, err = a.AllocPages(a.AvailablePages(), 12)
	require.NoError(t, err)
	require.Equal(t, 0, a.AvailablePages())
	require.NoError(t, a.Validate())

	_, err = a.Alloc(pageSize, 8)
	require.ErrorIs(t, err, kmem.ErrOutOfMemory)
	require.Equal(t, 4096, a.UsedBytes())
	require.NoError(t, a.Validate())
}

func TestByteAllocationAlignment(t *testing.T) {
	a, mem := newAllocator(t, 1<<20)

	first, err := a.Alloc(10, 8)
	require.NoError(t, err)
	require.Equal(t, mem.Base(), first)

	// The cursor sits at an unaligned position; the next allocation aligns up.
	second, err := a.Alloc(16, 64)
	require.NoError(t, err)
	require.Zero(t, second%64)
	require.Equal(t, mem.Base()+64, second)
	require.Equal(t, int(second-mem.Base())+16, a.UsedBytes())
}

func TestByteDeallocStackDiscipline(t *testing.T) {
	a, _ := newAllocator(t, 1<<20)

	first, err := a.Alloc(128, 8)
	require.NoError(t, err)
	second, err := a.Alloc(256, 8)
	require.NoError(t, err)
	require.Equal(t, 384, a.UsedBytes())

	// Freeing an earlier allocation is a no-op.
	a.Dealloc(first, 128, 8)
	require.Equal(t, 384, a.UsedBytes())

	// Freeing the most recent allocation rewinds the cursor.
	a.Dealloc(second, 256, 8)
	require.Equal(t, 128, a.UsedBytes())
	require.NoError(t, a.Validate())

	// The first block's space stays unrecoverable.
	again, err := a.Alloc(8, 8)
	require.NoError(t, err)
	require.Equal(t, second, again)
}

func TestDoubleDeallocKeepsCountNonNegative(t *testing.T) {
	a, _ := newAllocator(t, 1<<20)

	addr, err := a.Alloc(64, 8)
	require.NoError(t, err)

	a.Dealloc(addr, 64, 8)
	a.Dealloc(addr, 64, 8)

	var stats kmem.Statistics
	stats.Clear()
	a.AddStatistics(&stats)
	require.Equal(t, 0, stats.AllocationCount)
	require.Equal(t, 0, a.UsedBytes())
	require.NoError(t, a.Validate())
}

func TestPageDeallocStackDiscipline(t *testing.T) {
	a, _ := newAllocator(t, 1<<20)

	first, err := a.AllocPages(4, 12)
	require.NoError(t, err)
	second, err := a.AllocPages(2, 12)
	require.NoError(t, err)
	require.Equal(t, 6, a.UsedPages())

	// Freeing the earlier run is a no-op.
	a.DeallocPages(first, 4)
	require.Equal(t, 6, a.UsedPages())

	// Freeing the most recent run unwinds the cursor.
	a.DeallocPages(second, 2)
	require.Equal(t, 4, a.UsedPages())
	require.NoError(t, a.Validate())

	again, err := a.AllocPages(2, 12)
	require.NoError(t, err)
	require.Equal(t, second, again)
}

func TestAllocationsNeverOverlap(t *testing.T) {
	a, mem := newAllocator(t, 1<<20)
	end := mem.Base() + uintptr(1<<20)

	bytes1, err := a.Alloc(5000, 8)
	require.NoError(t, err)
	pages1, err := a.AllocPages(3, 12)
	require.NoError(t, err)
	bytes2, err := a.Alloc(5000, 8)
	require.NoError(t, err)

	require.GreaterOrEqual(t, uint64(bytes2), uint64(bytes1)+5000)
	require.GreaterOrEqual(t, uint64(pages1), uint64(bytes2)+5000)
	require.Equal(t, end, pages1+3*pageSize)
	require.NoError(t, a.Validate())
}

func TestOOMDoesNotMoveCursors(t *testing.T) {
	a, _ := newAllocator(t, 64*1024)

	usedBefore := a.UsedBytes()
	_, err := a.Alloc(65*1024, 8)
	require.ErrorIs(t, err, kmem.ErrOutOfMemory)
	require.Equal(t, usedBefore, a.UsedBytes())

	pagesBefore := a.UsedPages()
	_, err = a.AllocPages(17, 12)
	require.ErrorIs(t, err, kmem.ErrOutOfMemory)
	require.Equal(t, pagesBefore, a.UsedPages())
	require.NoError(t, a.Validate())
}

func TestPageAlignment(t *testing.T) {
	a, _ := newAllocator(t, 1<<20)

	// Ask for 64 KiB alignment with a 64 KiB span; the cursor aligns down
	// before the span is subtracted, so the returned base honors it too.
	addr, err := a.AllocPages(16, 16)
	require.NoError(t, err)
	require.Zero(t, addr%(1<<16))
	require.NoError(t, a.Validate())
}

func TestStatistics(t *testing.T) {
	a, _ := newAllocator(t, 1<<20)

	_, err := a.Alloc(4096, 8)
	require.NoError(t, err)
	_, err = a.AllocPages(2, 12)
	require.NoError(t, err)

	var stats kmem.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	require.Equal(t, kmem.DetailedStatistics{
		Statistics: kmem.Statistics{
			RegionCount:     1,
			AllocationCount: 1,
			TotalBytes:      1 << 20,
			UsedBytes:       4096 + 2*pageSize,
		},
		FreeRangeCount:   1,
		FreeRangeSizeMin: 1<<20 - 4096 - 2*pageSize,
		FreeRangeSizeMax: 1<<20 - 4096 - 2*pageSize,
	}, stats)
}

func TestWriteStatsJSON(t *testing.T) {
	a, _ := newAllocator(t, 1<<20)

	_, err := a.Alloc(512, 8)
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	a.WriteStatsJSON(&writer)
	require.NoError(t, writer.Error())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(writer.Bytes(), &decoded))
	require.EqualValues(t, 1<<20, decoded["TotalBytes"])
	require.EqualValues(t, pageSize, decoded["PageSize"])
}
