package split

import "github.com/chronosdb/metacore/meta"

// DownsampleShard is one emitted time-interval of the downsample splitter
// (spec.md §4.5 "Downsample splitting"), tagged with the combine group the
// execution layer will later use to reunite partial aggregates, and the
// index into the caller's input interval list it was carved from.
type DownsampleShard struct {
	Interval     meta.TimeInterval
	CombineGroup int
	SourceIndex  int
}

// SplitDownsample implements spec.md §4.5's numeric core: given a sorted
// list of per-series-interval time intervals overlapping [begin, end) and a
// precision p, emit prefix/whole-groups/suffix shards with combine-group
// tagging (spec.md §8 "Downsample splitter coverage" and "alignment"
// invariants; scenarios 3a/3b). The whole-groups span [b, b+n·p) is emitted
// as n shards of length p, each in its own combine group.
func SplitDownsample(intervals []meta.TimeInterval, begin, end, precision int64) []DownsampleShard {
	if precision <= 0 {
		return nil
	}

	var out []DownsampleShard
	nextGroup := 0
	openGroup := -1
	openSpan := int64(0)

	newGroup := func() int {
		g := nextGroup
		nextGroup++
		return g
	}
	closeOpen := func() {
		openGroup = -1
		openSpan = 0
	}
	emitSub := func(sourceIdx int, start, end int64) {
		if end <= start {
			return
		}
		if openGroup == -1 {
			openGroup = newGroup()
			openSpan = 0
		}
		out = append(out, DownsampleShard{Interval: meta.TimeInterval{Start: start, End: end}, CombineGroup: openGroup, SourceIndex: sourceIdx})
		openSpan += end - start
		if openSpan >= precision {
			closeOpen()
		}
	}
	emitWhole := func(sourceIdx int, start, end int64) {
		closeOpen()
		for s := start; s < end; s += precision {
			out = append(out, DownsampleShard{Interval: meta.TimeInterval{Start: s, End: s + precision}, CombineGroup: newGroup(), SourceIndex: sourceIdx})
		}
	}

	for i, iv := range intervals {
		b := max64(iv.Start, begin)
		e := min64(iv.End, end)
		if b >= e {
			continue
		}

		if i != 0 {
			mod := mod64(iv.Start-begin, precision)
			if mod != 0 {
				prefixEnd := min64(b+precision-mod, e)
				emitSub(i, b, prefixEnd)
				b = prefixEnd
			}
		}

		if e-b >= precision {
			n := (e - b) / precision
			wholeEnd := b + n*precision
			emitWhole(i, b, wholeEnd)
			b = wholeEnd
		}

		if b < e {
			emitSub(i, b, e)
		}
	}

	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func mod64(a, n int64) int64 {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
