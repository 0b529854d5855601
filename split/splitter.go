package split

import (
	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/fragment"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
)

// FragmentGenerator synthesizes fragment layouts in terms of the fake-id
// proposals the Fragment Manager's publish protocols consume.
type FragmentGenerator interface {
	// GenerateInitialLayout covers a series interval that no existing
	// fragment covers yet (spec.md §4.5 step 3).
	GenerateInitialLayout(ts meta.TimeSeriesInterval) ([]fragment.UnitProposal, []fragment.FragmentProposal)

	// GenerateRebalanceLayout grows an already-fragmented series interval
	// to k·engines storage units starting at startTime (spec.md §4.5 step
	// 1's "reallocate(k·engines, endTime)").
	GenerateRebalanceLayout(ts meta.TimeSeriesInterval, startTime int64) ([]fragment.UnitProposal, []fragment.FragmentProposal)
}

// Splitter implements spec.md §4.5 against one MetaCache snapshot and one
// Fragment Manager.
type Splitter struct {
	cache   *metacache.Cache
	frags   *fragment.Manager
	gen     FragmentGenerator
	table   *prefixTable
	metrics *cmn.Metrics
}

func New(cache *metacache.Cache, frags *fragment.Manager, gen FragmentGenerator, flushThreshold int64, metrics *cmn.Metrics) *Splitter {
	return &Splitter{cache: cache, frags: frags, gen: gen, table: newPrefixTable(flushThreshold), metrics: metrics}
}

// Split implements spec.md §4.5 steps 1-5 for every plan kind except
// DownsampleAggregate, which is routed to splitDownsample instead
// (the combine-group bookkeeping only makes sense there).
func (s *Splitter) Split(plan Plan) []SplitInfo {
	s.recordAndMaybeRebalance(plan)

	groups := s.overlappingGroups(plan)
	if len(groups) == 0 && plan.Kind.IsWrite() {
		if s.bootstrapInitialLayout(plan.SeriesInterval) {
			groups = s.overlappingGroups(plan)
		}
	}

	if plan.Kind == DownsampleAggregate {
		return s.splitDownsample(plan, groups)
	}

	var out []SplitInfo
	for _, g := range groups {
		for _, f := range g.Fragments {
			for _, unit := range s.targets(plan.Kind, f.MasterUnitID) {
				out = append(out, SplitInfo{
					TimeRange:      f.Time,
					SeriesInterval: g.Interval,
					StorageUnit:    unit,
					PlanKind:       plan.Kind,
				})
			}
		}
	}
	return out
}

func (s *Splitter) recordAndMaybeRebalance(plan Plan) {
	if s.table.record(plan.Paths) {
		counts := s.table.flush()
		cmn.Log.Debug().Int("distinct_paths", len(counts)).Msg("prefix-frequency table flushed")
	}
	if !plan.Kind.IsWrite() {
		return
	}
	if !s.cache.HasFragment() {
		return
	}
	if len(s.cache.GetFragmentMapByTimeSeriesInterval(plan.SeriesInterval)) == 0 {
		return
	}
	if s.table.consumeRebalanceFlag() {
		s.reallocate(plan)
	}
}

// reallocate is spec.md §4.5 step 1's "reallocate(k·engines, endTime)": it
// closes the touched series interval's currently open fragment at the
// triggering write's timestamp and grows the layout to k·engines units via
// the Fragment Manager's incremental creation protocol, the same path
// CreateFragmentsAndStorageUnits exposes to every other caller.
func (s *Splitter) reallocate(plan Plan) {
	if s.metrics != nil {
		s.metrics.RebalanceTriggers.Inc()
	}
	if s.gen == nil {
		cmn.Log.Warn().Str("series", plan.SeriesInterval.Key()).Msg("rebalance triggered but no fragment generator is wired")
		return
	}
	units, frags := s.gen.GenerateRebalanceLayout(plan.SeriesInterval, plan.TimeRange.Start)
	if len(units) == 0 {
		return
	}
	if !s.frags.CreateFragmentsAndStorageUnits(units, frags) {
		cmn.Log.Error().Str("series", plan.SeriesInterval.Key()).Msg("rebalance: failed to grow fragment layout")
		return
	}
	cmn.Log.Info().Str("series", plan.SeriesInterval.Key()).Msg("rebalance: grew fragment layout")
}

func (s *Splitter) overlappingGroups(plan Plan) []metacache.FragmentGroup {
	if plan.TimeBounded {
		return s.cache.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(plan.SeriesInterval, plan.TimeRange)
	}
	return s.cache.GetFragmentMapByTimeSeriesInterval(plan.SeriesInterval)
}

func (s *Splitter) bootstrapInitialLayout(ts meta.TimeSeriesInterval) bool {
	if s.gen == nil {
		return false
	}
	units, frags := s.gen.GenerateInitialLayout(ts)
	return s.frags.CreateInitialFragmentsAndStorageUnits(units, frags)
}

// targets implements step 4: master-only for reads, master+replicas for
// writes and delete-columns.
func (s *Splitter) targets(kind PlanKind, masterUnitID string) []*meta.StorageUnit {
	master, ok := s.cache.GetUnit(masterUnitID)
	if !ok {
		cmn.Log.Warn().Str("unit", masterUnitID).Msg("invariant violation: fragment references absent master unit")
		return nil
	}
	if !kind.ReplicatesToAll() {
		return []*meta.StorageUnit{master}
	}
	out := []*meta.StorageUnit{master}
	for _, replicaID := range master.Replicas {
		if replica, ok := s.cache.GetUnit(replicaID); ok {
			out = append(out, replica)
		}
	}
	return out
}

func (s *Splitter) splitDownsample(plan Plan, groups []metacache.FragmentGroup) []SplitInfo {
	var out []SplitInfo
	for _, g := range groups {
		intervals := make([]meta.TimeInterval, len(g.Fragments))
		for i, f := range g.Fragments {
			intervals[i] = f.Time
		}
		shards := SplitDownsample(intervals, plan.TimeRange.Start, plan.TimeRange.End, plan.Precision)
		for _, shard := range shards {
			masterID := g.Fragments[shard.SourceIndex].MasterUnitID
			master, ok := s.cache.GetUnit(masterID)
			if !ok {
				cmn.Log.Warn().Str("unit", masterID).Msg("invariant violation: fragment references absent master unit")
				continue
			}
			out = append(out, SplitInfo{
				TimeRange:      shard.Interval,
				SeriesInterval: g.Interval,
				StorageUnit:    master,
				PlanKind:       DownsampleAggregate,
				CombineGroup:   shard.CombineGroup,
			})
		}
	}
	return out
}
