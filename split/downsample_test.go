package split

import (
	"testing"

	"github.com/chronosdb/metacore/meta"
)

func iv(start, end int64) meta.TimeInterval { return meta.TimeInterval{Start: start, End: end} }

// TestSplitDownsampleSingleIntervalWholeGroups reproduces spec.md §8
// scenario 3a: one fragment [0,100), window [10,95), precision 20 -> four
// whole-precision shards each in their own combine group, then a suffix in
// a fresh group.
func TestSplitDownsampleSingleIntervalWholeGroups(t *testing.T) {
	shards := SplitDownsample([]meta.TimeInterval{iv(0, 100)}, 10, 95, 20)

	want := []DownsampleShard{
		{Interval: iv(10, 30), CombineGroup: 0, SourceIndex: 0},
		{Interval: iv(30, 50), CombineGroup: 1, SourceIndex: 0},
		{Interval: iv(50, 70), CombineGroup: 2, SourceIndex: 0},
		{Interval: iv(70, 90), CombineGroup: 3, SourceIndex: 0},
		{Interval: iv(90, 95), CombineGroup: 4, SourceIndex: 0},
	}
	assertShards(t, shards, want)
}

// TestSplitDownsampleAcrossFragmentsMergesSuffixWithPrefix reproduces
// spec.md §8 scenario 3b: two fragments [0,50) and [50,100), window
// [0,100), precision 30. The first fragment's span-20 suffix [30,50) must
// combine with the second fragment's span-10 prefix [50,60) into one
// combine group (together spanning exactly the precision), followed by a
// whole group [60,90) and a fresh suffix [90,100).
func TestSplitDownsampleAcrossFragmentsMergesSuffixWithPrefix(t *testing.T) {
	shards := SplitDownsample([]meta.TimeInterval{iv(0, 50), iv(50, 100)}, 0, 100, 30)

	want := []DownsampleShard{
		{Interval: iv(0, 30), CombineGroup: 0, SourceIndex: 0},
		{Interval: iv(30, 50), CombineGroup: 1, SourceIndex: 0},
		{Interval: iv(50, 60), CombineGroup: 1, SourceIndex: 1},
		{Interval: iv(60, 90), CombineGroup: 2, SourceIndex: 1},
		{Interval: iv(90, 100), CombineGroup: 3, SourceIndex: 1},
	}
	assertShards(t, shards, want)
}

func TestSplitDownsampleZeroPrecisionReturnsNil(t *testing.T) {
	if got := SplitDownsample([]meta.TimeInterval{iv(0, 100)}, 0, 100, 0); got != nil {
		t.Fatalf("expected nil for non-positive precision, got %v", got)
	}
}

// TestSplitDownsampleCoverage is the "coverage" invariant of spec.md §8:
// every nanosecond in [begin,end) that some interval actually covers
// appears in exactly one emitted shard.
func TestSplitDownsampleCoverage(t *testing.T) {
	intervals := []meta.TimeInterval{iv(0, 50), iv(50, 137)}
	shards := SplitDownsample(intervals, 5, 130, 17)

	covered := map[int64]bool{}
	for _, sh := range shards {
		for ts := sh.Interval.Start; ts < sh.Interval.End; ts++ {
			if covered[ts] {
				t.Fatalf("timestamp %d covered by more than one shard", ts)
			}
			covered[ts] = true
		}
	}
	for ts := int64(5); ts < 130; ts++ {
		if !covered[ts] {
			t.Fatalf("timestamp %d not covered by any shard", ts)
		}
	}
}

// TestSplitDownsampleAlignment is the "alignment" invariant: every
// whole-group shard has exactly precision length and starts precision-
// aligned to the window begin.
func TestSplitDownsampleAlignment(t *testing.T) {
	shards := SplitDownsample([]meta.TimeInterval{iv(0, 50), iv(50, 100)}, 0, 100, 30)
	for _, sh := range shards {
		length := sh.Interval.End - sh.Interval.Start
		if length == 30 && (sh.Interval.Start-0)%30 != 0 {
			t.Fatalf("whole-group shard %v not aligned to precision", sh.Interval)
		}
	}
}

func assertShards(t *testing.T, got, want []DownsampleShard) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("shard count mismatch: got %d want %d (got=%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("shard %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}
