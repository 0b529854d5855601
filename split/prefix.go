package split

import (
	"math"
	"sync"
	"sync/atomic"
)

// prefixTable is the sliding prefix-frequency table of spec.md §4.5 step 1
// / §5: readers credit paths without taking the table's write lock (via
// per-path atomic float accumulators), while the flush-and-grow operation
// takes the write lock to swap the whole table out atomically.
type prefixTable struct {
	mu        sync.RWMutex
	counts    sync.Map // path string -> *uint64 (math.Float64bits accumulator)
	size      atomic.Int64
	threshold atomic.Int64
	increment int64

	everFlushed   atomic.Bool
	rebalanceFlag atomic.Bool
}

func newPrefixTable(threshold int64) *prefixTable {
	t := &prefixTable{increment: threshold}
	t.threshold.Store(threshold)
	return t
}

// record credits each of paths with weight 1/len(paths) and reports
// whether the distinct-path count has reached the current flush
// threshold.
func (t *prefixTable) record(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	weight := 1.0 / float64(len(paths))
	t.mu.RLock()
	for _, p := range paths {
		v, loaded := t.counts.LoadOrStore(p, new(uint64))
		if !loaded {
			t.size.Add(1)
		}
		addFloat64(v.(*uint64), weight)
	}
	reached := t.size.Load() >= t.threshold.Load()
	t.mu.RUnlock()
	return reached
}

// flush drains the table, raises the threshold by the original increment,
// and — only the first time ever — sets the rebalance flag (spec.md §4.5
// step 1: "On the first flush a rebalance flag is set").
func (t *prefixTable) flush() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := map[string]float64{}
	t.counts.Range(func(k, v interface{}) bool {
		out[k.(string)] = math.Float64frombits(atomic.LoadUint64(v.(*uint64)))
		return true
	})
	t.counts = sync.Map{}
	t.size.Store(0)
	t.threshold.Add(t.increment)

	if !t.everFlushed.Swap(true) {
		t.rebalanceFlag.Store(true)
	}
	return out
}

// consumeRebalanceFlag clears and returns the rebalance flag, to be called
// by the next write plan that observes an existing fragment map (spec.md
// §4.5 step 1: "the next write plan ... will trigger reallocate(...) and
// clear the flag").
func (t *prefixTable) consumeRebalanceFlag() bool {
	return t.rebalanceFlag.CompareAndSwap(true, false)
}

func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}
