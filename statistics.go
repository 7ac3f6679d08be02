package kmem

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

type Statistics struct {
	RegionCount     int
	AllocationCount int
	TotalBytes      int
	UsedBytes       int
}

func (s *Statistics) Clear() {
	s.RegionCount = 0
	s.AllocationCount = 0
	s.TotalBytes = 0
	s.UsedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.RegionCount += other.RegionCount
	s.AllocationCount += other.AllocationCount
	s.TotalBytes += other.TotalBytes
	s.UsedBytes += other.UsedBytes
}

// WriteJSON populates a json object with this object's statistics. The object
// state is shared with the caller, so it must be passed by pointer or the
// separator bookkeeping diverges and the output stops being valid json.
func (s *Statistics) WriteJSON(json *jwriter.ObjectState) {
	json.Name("Regions").Int(s.RegionCount)
	json.Name("Allocations").Int(s.AllocationCount)
	json.Name("TotalBytes").Int(s.TotalBytes)
	json.Name("UsedBytes").Int(s.UsedBytes)
}

// DetailedStatistics extends Statistics with information about individual free
// ranges. Allocated blocks carry no metadata in this module, so per-allocation
// sizes cannot be enumerated; only the free side of the ledger has detail.
type DetailedStatistics struct {
	Statistics
	FreeRangeCount   int
	FreeRangeSizeMin int
	FreeRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.FreeRangeSizeMin = math.MaxInt
	s.FreeRangeSizeMax = 0
}

func (s *DetailedStatistics) AddFreeRange(size int) {
	s.FreeRangeCount++

	if size < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = size
	}

	if size > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount

	if other.FreeRangeSizeMin < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = other.FreeRangeSizeMin
	}

	if other.FreeRangeSizeMax > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = other.FreeRangeSizeMax
	}
}

// WriteJSON populates a json object with this object's statistics
func (s *DetailedStatistics) WriteJSON(json *jwriter.ObjectState) {
	s.Statistics.WriteJSON(json)

	json.Name("FreeRanges").Int(s.FreeRangeCount)

	if s.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Int(s.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(s.FreeRangeSizeMax)
	}
}
