// Package chunker plans the byte ranges a source file is split into for
// transmission. Planning is pure and deterministic: the orchestrator relies
// on identical re-plans to resume an interrupted transfer after a restart.
package chunker

// Range is one contiguous byte range of the source file, the unit of
// transmission. End is inclusive (Content-Range style), so Size is always
// End-Start+1.
type Range struct {
	Index int
	Start uint64
	End   uint64
	Size  uint64
}

// Plan splits totalSize bytes into ceil(totalSize/chunkSize) ordered ranges.
// Every range is chunkSize bytes except the last, which holds the remainder.
// Returns nil if either argument is zero.
func Plan(totalSize, chunkSize uint64) []Range {
	if totalSize == 0 || chunkSize == 0 {
		return nil
	}

	count := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		count++
	}

	ranges := make([]Range, 0, count)
	var start uint64
	for i := 0; start < totalSize; i++ {
		size := chunkSize
		if remaining := totalSize - start; remaining < size {
			size = remaining
		}
		ranges = append(ranges, Range{
			Index: i,
			Start: start,
			End:   start + size - 1,
			Size:  size,
		})
		start += size
	}
	return ranges
}

// Count returns the number of ranges Plan would produce without allocating.
func Count(totalSize, chunkSize uint64) int {
	if totalSize == 0 || chunkSize == 0 {
		return 0
	}
	n := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		n++
	}
	return int(n)
}
