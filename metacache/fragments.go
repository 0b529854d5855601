package metacache

import (
	"sort"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
)

// FragmentGroup is one series-interval's fragment list, as returned by the
// range-query methods below. Groups are returned in the order their
// series-interval key was first inserted into the cache (spec §4.2: "the
// result preserves insertion order of the series-interval keys").
type FragmentGroup struct {
	Interval  meta.TimeSeriesInterval
	Fragments meta.FragmentList
}

// HasFragment reports whether the cache has completed its initial fragment
// load (spec §4.2).
func (c *Cache) HasFragment() bool { return c.hasFrag.Load() }

// InitFragment bulk-installs fragments exactly once; a subsequent call is a
// no-op (spec §4.2).
func (c *Cache) InitFragment(fragments map[string]*meta.Fragment) {
	if c.hasFrag.Load() {
		return
	}
	c.fragMu.Lock()
	for _, f := range fragments {
		c.addFragmentLocked(f.Clone())
	}
	c.fragMu.Unlock()
	c.hasFrag.Store(true)
	if c.metrics != nil {
		c.metrics.Fragments.Set(float64(len(fragments)))
	}
}

func (c *Cache) addFragmentLocked(f *meta.Fragment) {
	key := f.TimeSeries.Key()
	if _, seen := c.tsValues[key]; !seen {
		c.tsValues[key] = f.TimeSeries
		c.tsOrder = append(c.tsOrder, key)
	}
	list := c.byTS[key]
	if f.IsOpen() {
		if prev, ok := c.latest[key]; ok && prev != nil {
			cmn.Log.Warn().Str("series", key).Msg("invariant violation: two open fragments for one series interval (I-F1)")
		}
		c.latest[key] = f
	}
	idx := sort.Search(len(list), func(i int) bool { return list[i].Time.Start >= f.Time.Start })
	if idx < len(list) && list[idx].Time.Start == f.Time.Start {
		cmn.Log.Warn().Str("series", key).Int64("start", f.Time.Start).Msg("invariant violation: duplicate fragment start time (I-F2)")
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = f
	c.byTS[key] = list
}

// AddFragment installs a single new fragment, incrementally (spec §4.4
// incremental fragment creation / change-event handling).
func (c *Cache) AddFragment(f *meta.Fragment) {
	c.fragMu.Lock()
	c.addFragmentLocked(f.Clone())
	n := c.fragmentCountLocked()
	c.fragMu.Unlock()
	if c.metrics != nil {
		c.metrics.Fragments.Set(float64(n))
	}
}

func (c *Cache) fragmentCountLocked() int {
	n := 0
	for _, l := range c.byTS {
		n += len(l)
	}
	return n
}

// UpdateFragment replaces, in place, the cached fragment with f's series
// interval and start time, e.g. to close it by setting a new, non-open End
// (spec §4.4 "end-fragment operation": "each currently-latest fragment is
// closed by setting its endTime = newFragments[0].startTime").
func (c *Cache) UpdateFragment(f *meta.Fragment) {
	c.fragMu.Lock()
	defer c.fragMu.Unlock()
	key := f.TimeSeries.Key()
	next := f.Clone()
	list := c.byTS[key]
	for i, existing := range list {
		if existing.Time.Start == f.Time.Start {
			list[i] = next
			break
		}
	}
	if !f.IsOpen() {
		if cur, ok := c.latest[key]; ok && cur.Time.Start == f.Time.Start {
			delete(c.latest, key)
		}
	} else {
		c.latest[key] = next
	}
}

// CloseLatest closes the currently-open fragment for key, if any, setting
// its End to newEnd (I-F3). Returns the closed fragment's clone, or nil if
// there was none.
func (c *Cache) CloseLatest(tsInterval meta.TimeSeriesInterval, newEnd int64) *meta.Fragment {
	c.fragMu.Lock()
	defer c.fragMu.Unlock()
	key := tsInterval.Key()
	cur, ok := c.latest[key]
	if !ok {
		return nil
	}
	cur.Time.End = newEnd
	delete(c.latest, key)
	return cur.Clone()
}

func (c *Cache) GetFragmentMapByTimeSeriesInterval(tsRange meta.TimeSeriesInterval) []FragmentGroup {
	c.fragMu.RLock()
	defer c.fragMu.RUnlock()
	var out []FragmentGroup
	for _, key := range c.tsOrder {
		ts := c.tsValues[key]
		if !ts.Overlaps(tsRange) {
			continue
		}
		out = append(out, FragmentGroup{Interval: ts, Fragments: c.byTS[key].Clone()})
	}
	return out
}

func (c *Cache) GetFragmentMapByTimeSeriesIntervalAndTimeInterval(tsRange meta.TimeSeriesInterval, timeRange meta.TimeInterval) []FragmentGroup {
	c.fragMu.RLock()
	defer c.fragMu.RUnlock()
	var out []FragmentGroup
	for _, key := range c.tsOrder {
		ts := c.tsValues[key]
		if !ts.Overlaps(tsRange) {
			continue
		}
		var matched meta.FragmentList
		for _, f := range c.byTS[key] {
			if f.Time.Overlaps(timeRange) {
				matched = append(matched, f.Clone())
			}
		}
		if len(matched) > 0 {
			out = append(out, FragmentGroup{Interval: ts, Fragments: matched})
		}
	}
	return out
}

// GetLatestFragmentMap returns the open-ended fragment per series interval,
// across the whole cache (spec §4.2).
func (c *Cache) GetLatestFragmentMap() map[string]*meta.Fragment {
	c.fragMu.RLock()
	defer c.fragMu.RUnlock()
	out := make(map[string]*meta.Fragment, len(c.latest))
	for k, f := range c.latest {
		out[k] = f.Clone()
	}
	return out
}

// GetLatestFragmentMapByTimeSeriesInterval restricts GetLatestFragmentMap to
// series intervals overlapping tsRange.
func (c *Cache) GetLatestFragmentMapByTimeSeriesInterval(tsRange meta.TimeSeriesInterval) []FragmentGroup {
	c.fragMu.RLock()
	defer c.fragMu.RUnlock()
	var out []FragmentGroup
	for _, key := range c.tsOrder {
		ts := c.tsValues[key]
		if !ts.Overlaps(tsRange) {
			continue
		}
		if f, ok := c.latest[key]; ok {
			out = append(out, FragmentGroup{Interval: ts, Fragments: meta.FragmentList{f.Clone()}})
		}
	}
	return out
}

func (c *Cache) GetFragmentListByTimeSeriesName(name string) meta.FragmentList {
	c.fragMu.RLock()
	defer c.fragMu.RUnlock()
	var out meta.FragmentList
	for _, key := range c.tsOrder {
		if !c.tsValues[key].Contains(name) {
			continue
		}
		out = append(out, c.byTS[key].Clone()...)
	}
	return out
}

func (c *Cache) GetFragmentListByTimeSeriesNameAndTimeInterval(name string, timeRange meta.TimeInterval) meta.FragmentList {
	c.fragMu.RLock()
	defer c.fragMu.RUnlock()
	var out meta.FragmentList
	for _, key := range c.tsOrder {
		if !c.tsValues[key].Contains(name) {
			continue
		}
		for _, f := range c.byTS[key] {
			if f.Time.Overlaps(timeRange) {
				out = append(out, f.Clone())
			}
		}
	}
	return out
}
