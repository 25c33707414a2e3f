package feed

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange splits a block range into batches of at most batchSize blocks.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start+1 > batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges, nil
}

// pollWindow returns the range a tick scans: everything after the watermark
// plus an overlap of already-processed blocks, so logs indexed late by the
// node are still seen.
func pollWindow(watermark, latest, overlap uint64) (BlockRange, bool) {
	if latest <= watermark {
		return BlockRange{}, false
	}
	from := watermark + 1
	if from > overlap {
		from -= overlap
	} else {
		from = 0
	}
	return BlockRange{From: from, To: latest}, true
}

// initialWindow returns the first block of the startup scan.
func initialWindow(latest, lookback uint64) uint64 {
	if latest < lookback {
		return 0
	}
	return latest - lookback
}
