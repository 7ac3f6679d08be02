package tlsf

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/oskit/kmem"
	"golang.org/x/exp/slog"
)

// VisitFreeBlocks calls the provided callback once for each free block, in
// size-class order. Returning an error from the callback stops the walk and
// propagates the error.
func (a *Allocator) VisitFreeBlocks(handleBlock func(addr uintptr, size int) error) error {
	for fl := 0; fl < flIndexCount; fl++ {
		if a.flBitmap&(1<<uint(fl)) == 0 {
			continue
		}
		for sl := 0; sl < slIndexCount; sl++ {
			for addr := a.freeLists[fl][sl]; addr != 0; addr = headerAt(addr).nextFree {
				err := handleBlock(addr, headerAt(addr).size)
				if err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// AddStatistics sums this allocator's counters into the statistics currently
// present in the provided kmem.Statistics object.
func (a *Allocator) AddStatistics(stats *kmem.Statistics) {
	stats.RegionCount += a.regionCount
	stats.AllocationCount += a.allocCount
	stats.TotalBytes += a.totalMemory
	stats.UsedBytes += a.usedMemory
}

// AddDetailedStatistics sums this allocator's counters and free-range detail
// into the statistics currently present in the provided object.
func (a *Allocator) AddDetailedStatistics(stats *kmem.DetailedStatistics) {
	a.AddStatistics(&stats.Statistics)

	_ = a.VisitFreeBlocks(func(addr uintptr, size int) error {
		stats.AddFreeRange(size)
		return nil
	})
}

// WriteStatsJSON writes a json object describing the allocator's accounting
// and every free block to the provided writer.
func (a *Allocator) WriteStatsJSON(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	var stats kmem.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)
	stats.WriteJSON(&obj)

	blocks := obj.Name("FreeBlocks").Array()
	defer blocks.End()

	_ = a.VisitFreeBlocks(func(addr uintptr, size int) error {
		blockObj := blocks.Object()
		blockObj.Name("Address").String(fmt.Sprintf("%#x", addr))
		blockObj.Name("Size").Int(size)
		blockObj.End()
		return nil
	})
}

// DebugLogFreeBlocks logs one line per free block at debug level. The
// allocator never logs on its own; this is a pull-model diagnostic for the
// surrounding system.
func (a *Allocator) DebugLogFreeBlocks(logger *slog.Logger) {
	_ = a.VisitFreeBlocks(func(addr uintptr, size int) error {
		logger.Debug("free block",
			slog.Uint64("addr", uint64(addr)),
			slog.Int("size", size),
		)
		return nil
	})
}
