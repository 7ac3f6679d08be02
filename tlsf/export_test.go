package tlsf

const (
	MinBlockSize = minBlockSize
	HeaderSize   = headerSize
)

// SizeToClass exposes the two-level size-class mapping for property tests.
func SizeToClass(size int) (fl, sl int) {
	fl = sizeToFirstIndex(size)
	return fl, sizeToSecondIndex(size, fl)
}

// RoundAllocSize exposes the request-size rounding for accounting tests.
func RoundAllocSize(size int) int {
	return roundAllocSize(size)
}
