package bump

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/oskit/kmem"
	"golang.org/x/exp/slog"
)

// AddStatistics sums this allocator's counters into the statistics currently
// present in the provided kmem.Statistics object.
func (a *Allocator) AddStatistics(stats *kmem.Statistics) {
	if a.end != a.start {
		stats.RegionCount++
	}
	stats.AllocationCount += a.allocCount
	stats.TotalBytes += a.TotalBytes()
	stats.UsedBytes += a.UsedBytes() + a.UsedPages()*a.pageSize
}

// AddDetailedStatistics sums this allocator's counters into the statistics
// currently present in the provided object. The gap between the two cursors is
// the allocator's single free range.
func (a *Allocator) AddDetailedStatistics(stats *kmem.DetailedStatistics) {
	a.AddStatistics(&stats.Statistics)

	if gap := a.AvailableBytes(); gap > 0 {
		stats.AddFreeRange(gap)
	}
}

// WriteStatsJSON writes a json object describing the allocator's cursors and
// accounting to the provided writer.
func (a *Allocator) WriteStatsJSON(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	var stats kmem.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)
	stats.WriteJSON(&obj)

	obj.Name("BytePos").String(fmt.Sprintf("%#x", a.bytePos))
	obj.Name("PagePos").String(fmt.Sprintf("%#x", a.pagePos))
	obj.Name("PageSize").Int(a.pageSize)
	obj.Name("UsedPages").Int(a.UsedPages())
	obj.Name("AvailablePages").Int(a.AvailablePages())
}

// DebugLogCursors logs the allocator's cursor positions at debug level.
func (a *Allocator) DebugLogCursors(logger *slog.Logger) {
	logger.Debug("bump allocator cursors",
		slog.Uint64("start", uint64(a.start)),
		slog.Uint64("bytePos", uint64(a.bytePos)),
		slog.Uint64("pagePos", uint64(a.pagePos)),
		slog.Uint64("end", uint64(a.end)),
	)
}
