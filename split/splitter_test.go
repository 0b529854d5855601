package split

import (
	"path/filepath"
	"testing"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/fragment"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
	"github.com/chronosdb/metacore/metastore/file"
)

// stubGenerator lays out one master plus one replica across two fixed
// engines, mirroring manager.defaultFragmentGenerator without depending on
// package manager (which would import split and create a cycle).
type stubGenerator struct{ engines []int64 }

func (g stubGenerator) GenerateInitialLayout(ts meta.TimeSeriesInterval) ([]fragment.UnitProposal, []fragment.FragmentProposal) {
	units := []fragment.UnitProposal{
		{FakeID: "u0", EngineID: g.engines[0], MasterFakeID: "u0"},
		{FakeID: "u1", EngineID: g.engines[1], ReplicaOf: "u0"},
	}
	frags := []fragment.FragmentProposal{{
		TimeSeries: ts,
		Time:       meta.TimeInterval{Start: 0, End: meta.OpenTime},
		UnitFakeID: "u0",
	}}
	return units, frags
}

// GenerateRebalanceLayout lays out one extra master-group on the same two
// engines, opening at startTime.
func (g stubGenerator) GenerateRebalanceLayout(ts meta.TimeSeriesInterval, startTime int64) ([]fragment.UnitProposal, []fragment.FragmentProposal) {
	units := []fragment.UnitProposal{
		{FakeID: "ru0-0", EngineID: g.engines[0], MasterFakeID: "ru0-0"},
		{FakeID: "ru0-1", EngineID: g.engines[1], ReplicaOf: "ru0-0"},
	}
	frags := []fragment.FragmentProposal{{
		TimeSeries: ts,
		Time:       meta.TimeInterval{Start: startTime, End: meta.OpenTime},
		UnitFakeID: "ru0-0",
	}}
	return units, frags
}

func newHarness(t *testing.T) (*metacache.Cache, *fragment.Manager) {
	t.Helper()
	store, err := file.Open(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	metrics := cmn.NewMetrics(nil)
	cache := metacache.New(metrics)
	frag := fragment.New(store, cache, 1, metrics)
	return cache, frag
}

func TestSplitWriteTriggersBootstrapWhenNoFragmentExists(t *testing.T) {
	cache, frag := newHarness(t)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{})
	cache.InitFragment(map[string]*meta.Fragment{})

	s := New(cache, frag, stubGenerator{engines: []int64{1, 2}}, 1000, cmn.NewMetrics(nil))

	plan := Plan{
		Kind:           InsertRow,
		Paths:          []string{"root.a.b"},
		SeriesInterval: meta.TimeSeriesInterval{StartSeries: "root.a.b"},
	}
	out := s.Split(plan)
	if len(out) != 2 {
		t.Fatalf("expected writes to target master+replica (2 units), got %d: %+v", len(out), out)
	}
}

func TestSplitQueryTargetsMasterOnly(t *testing.T) {
	cache, frag := newHarness(t)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{})
	cache.InitFragment(map[string]*meta.Fragment{})

	gen := stubGenerator{engines: []int64{1, 2}}
	s := New(cache, frag, gen, 1000, cmn.NewMetrics(nil))

	ts := meta.TimeSeriesInterval{StartSeries: "root.a.b"}
	writePlan := Plan{Kind: InsertRow, Paths: []string{"root.a.b"}, SeriesInterval: ts}
	if len(s.Split(writePlan)) == 0 {
		t.Fatal("setup: expected the write to bootstrap a layout")
	}

	queryPlan := Plan{Kind: Query, Paths: []string{"root.a.b"}, SeriesInterval: ts}
	out := s.Split(queryPlan)
	if len(out) != 1 {
		t.Fatalf("expected a read to target only the master unit, got %d: %+v", len(out), out)
	}
}

func TestSplitDeleteReplicatesToAll(t *testing.T) {
	cache, frag := newHarness(t)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{})
	cache.InitFragment(map[string]*meta.Fragment{})

	gen := stubGenerator{engines: []int64{1, 2}}
	s := New(cache, frag, gen, 1000, cmn.NewMetrics(nil))

	ts := meta.TimeSeriesInterval{StartSeries: "root.a.b"}
	writePlan := Plan{Kind: InsertRow, Paths: []string{"root.a.b"}, SeriesInterval: ts}
	if len(s.Split(writePlan)) == 0 {
		t.Fatal("setup: expected the write to bootstrap a layout")
	}

	deletePlan := Plan{Kind: Delete, Paths: []string{"root.a.b"}, SeriesInterval: ts}
	out := s.Split(deletePlan)
	if len(out) != 2 {
		t.Fatalf("expected delete to target master+replica, got %d: %+v", len(out), out)
	}
}

func TestPrefixTableFlushSetsRebalanceFlagOnlyOnce(t *testing.T) {
	table := newPrefixTable(2)
	if table.record([]string{"a"}) {
		t.Fatal("should not reach threshold after one path")
	}
	if !table.record([]string{"b"}) {
		t.Fatal("should reach threshold after two distinct paths")
	}
	table.flush()
	if !table.consumeRebalanceFlag() {
		t.Fatal("expected the first-ever flush to set the rebalance flag")
	}
	if table.consumeRebalanceFlag() {
		t.Fatal("expected consumeRebalanceFlag to clear the flag")
	}

	// Second flush cycle must not re-set the flag.
	table.record([]string{"c"})
	table.record([]string{"d"})
	table.flush()
	if table.consumeRebalanceFlag() {
		t.Fatal("only the very first flush should set the rebalance flag")
	}
}

func TestRecordAndMaybeRebalanceGrowsLayoutOnFlag(t *testing.T) {
	cache, frag := newHarness(t)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{})
	cache.InitFragment(map[string]*meta.Fragment{})

	gen := stubGenerator{engines: []int64{1, 2}}
	s := New(cache, frag, gen, 2, cmn.NewMetrics(nil))

	ts := meta.TimeSeriesInterval{StartSeries: "root.a.b"}
	bootstrap := Plan{Kind: InsertRow, Paths: []string{"root.a.b"}, SeriesInterval: ts}
	if len(s.Split(bootstrap)) == 0 {
		t.Fatal("setup: expected the write to bootstrap a layout")
	}
	if got := cache.UnitCount(); got != 2 {
		t.Fatalf("setup: expected 2 units after bootstrap, got %d", got)
	}

	// Two distinct paths reach flushThreshold=2, setting the rebalance flag;
	// this write then consumes it and should grow the layout.
	rebalance := Plan{Kind: InsertRow, Paths: []string{"root.c"}, SeriesInterval: ts, TimeRange: meta.TimeInterval{Start: 100}}
	s.Split(rebalance)

	if got := cache.UnitCount(); got != 4 {
		t.Fatalf("expected rebalance to add a second master-group (4 units total), got %d", got)
	}
	groups := cache.GetFragmentMapByTimeSeriesInterval(ts)
	if len(groups) != 1 || len(groups[0].Fragments) != 2 {
		t.Fatalf("expected the original fragment closed and a new one opened, got %+v", groups)
	}
}
