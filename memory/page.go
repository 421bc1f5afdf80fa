package memory

const (
	PageSize  = 0x1000
	pageShift = 12

	// MaxBufferSize bounds a single ReadBuffer call.
	MaxBufferSize = PageSize * 1500
)

// PageAlign returns the start of the page holding va.
func PageAlign(va uint64) uint64 {
	return va &^ (PageSize - 1)
}

// ByteOffset returns the offset of va within its page.
func ByteOffset(va uint64) uint32 {
	return uint32(va & (PageSize - 1))
}

// SpanPages returns the number of pages touched by [va, va+size).
func SpanPages(va uint64, size uint32) uint32 {
	return uint32((uint64(ByteOffset(va)) + uint64(size) + (PageSize - 1)) >> pageShift)
}
