package fragment

import (
	"path/filepath"
	"testing"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
	"github.com/chronosdb/metacore/metastore"
	"github.com/chronosdb/metacore/metastore/file"
)

func newTestStore(t *testing.T) metastore.MetaStore {
	t.Helper()
	store, err := file.Open(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func allOpenProposal(id int64) ([]UnitProposal, []FragmentProposal) {
	units := []UnitProposal{{FakeID: "u0", EngineID: id, MasterFakeID: "u0"}}
	frags := []FragmentProposal{{
		TimeSeries: meta.TimeSeriesInterval{StartSeries: "a", EndSeries: ""},
		Time:       meta.TimeInterval{Start: 0, End: meta.OpenTime},
		UnitFakeID: "u0",
	}}
	return units, frags
}

func TestBootstrapWinsAndInstallsIntoCache(t *testing.T) {
	store := newTestStore(t)
	cache := metacache.New(nil)
	mgr := New(store, cache, 1, cmn.NewMetrics(nil))

	units, frags := allOpenProposal(7)
	if !mgr.CreateInitialFragmentsAndStorageUnits(units, frags) {
		t.Fatal("expected this node to win bootstrap")
	}
	if !cache.HasFragment() || !cache.HasStorageUnit() {
		t.Fatal("expected cache to be initialized after a winning bootstrap")
	}
	if n := cache.UnitCount(); n != 1 {
		t.Fatalf("expected 1 unit, got %d", n)
	}
}

// TestBootstrapSecondCallerLoses models a second front-end observing that
// another node already initialized the cluster (spec §8 "exactly one
// proposal wins").
func TestBootstrapSecondCallerLoses(t *testing.T) {
	store := newTestStore(t)

	cacheA := metacache.New(nil)
	mgrA := New(store, cacheA, 1, cmn.NewMetrics(nil))
	unitsA, fragsA := allOpenProposal(1)
	if !mgrA.CreateInitialFragmentsAndStorageUnits(unitsA, fragsA) {
		t.Fatal("first caller should win")
	}

	cacheB := metacache.New(nil)
	mgrB := New(store, cacheB, 2, cmn.NewMetrics(nil))
	unitsB, fragsB := allOpenProposal(2)
	if mgrB.CreateInitialFragmentsAndStorageUnits(unitsB, fragsB) {
		t.Fatal("second caller should lose: cluster already bootstrapped")
	}
	if !cacheB.HasFragment() || !cacheB.HasStorageUnit() {
		t.Fatal("losing caller should still load the winner's state into its cache")
	}
	if cacheB.UnitCount() != 1 {
		t.Fatalf("expected the winner's single unit to be visible, got %d", cacheB.UnitCount())
	}
}

// TestBootstrapFastPathSkipsWhenAlreadyInitialized covers step 1/3's
// re-check: a manager whose cache is already initialized never calls the
// store at all.
func TestBootstrapFastPathSkipsWhenAlreadyInitialized(t *testing.T) {
	store := newTestStore(t)
	cache := metacache.New(nil)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{})
	cache.InitFragment(map[string]*meta.Fragment{})

	mgr := New(store, cache, 1, cmn.NewMetrics(nil))
	units, frags := allOpenProposal(1)
	if mgr.CreateInitialFragmentsAndStorageUnits(units, frags) {
		t.Fatal("expected fast-path no-op to report it did not win")
	}
}

// TestHandleFragmentChangeSkipsSelfEcho covers the self-echo suppression
// rule shared by topology and fragment.
func TestHandleFragmentChangeSkipsSelfEcho(t *testing.T) {
	store := newTestStore(t)
	cache := metacache.New(nil)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{"u0": {UnitID: "u0", MasterUnitID: "u0"}})
	cache.InitFragment(map[string]*meta.Fragment{})

	mgr := New(store, cache, 1, cmn.NewMetrics(nil))
	f := &meta.Fragment{
		TimeSeries:    meta.TimeSeriesInterval{StartSeries: "a"},
		Time:          meta.TimeInterval{Start: 0, End: meta.OpenTime},
		MasterUnitID:  "u0",
		CreatorNodeID: 1, // == selfID
	}
	mgr.HandleFragmentChange(f.Key(), f)

	if len(cache.GetFragmentMapByTimeSeriesInterval(meta.TimeSeriesInterval{})) != 0 {
		t.Fatal("self-originated fragment change should not be re-applied")
	}
}

// TestHandleFragmentChangeAppliesRemoteCreate covers the normal remote
// create path: a fragment created by another node whose master unit is in
// the cache is installed.
func TestHandleFragmentChangeAppliesRemoteCreate(t *testing.T) {
	store := newTestStore(t)
	cache := metacache.New(nil)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{"u0": {UnitID: "u0", MasterUnitID: "u0"}})
	cache.InitFragment(map[string]*meta.Fragment{})

	mgr := New(store, cache, 1, cmn.NewMetrics(nil))
	f := &meta.Fragment{
		TimeSeries:    meta.TimeSeriesInterval{StartSeries: "a"},
		Time:          meta.TimeInterval{Start: 0, End: meta.OpenTime},
		MasterUnitID:  "u0",
		CreatorNodeID: 2, // remote
	}
	mgr.HandleFragmentChange(f.Key(), f)

	groups := cache.GetFragmentMapByTimeSeriesInterval(meta.TimeSeriesInterval{})
	if len(groups) != 1 || len(groups[0].Fragments) != 1 {
		t.Fatalf("expected the remote fragment to be installed, got %v", groups)
	}
}

// TestCreateFragmentsAndStorageUnitsInstallsIntoCallersCache covers spec.md
// §5's ordering guarantee for the incremental path: the caller's own
// MetaCache must reflect its own write before the call returns, since
// neither HandleUnitChange nor HandleFragmentChange will ever backfill a
// self-authored change event.
func TestCreateFragmentsAndStorageUnitsInstallsIntoCallersCache(t *testing.T) {
	store := newTestStore(t)
	cache := metacache.New(nil)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{})
	cache.InitFragment(map[string]*meta.Fragment{})

	mgr := New(store, cache, 1, cmn.NewMetrics(nil))
	units, frags := allOpenProposal(9)
	if !mgr.CreateFragmentsAndStorageUnits(units, frags) {
		t.Fatal("expected incremental creation to succeed")
	}

	if n := cache.UnitCount(); n != 1 {
		t.Fatalf("expected the new unit to be visible in the caller's own cache, got %d", n)
	}
	groups := cache.GetFragmentMapByTimeSeriesInterval(meta.TimeSeriesInterval{})
	if len(groups) != 1 || len(groups[0].Fragments) != 1 {
		t.Fatalf("expected the new fragment to be visible in the caller's own cache, got %v", groups)
	}
}

// TestCreateFragmentsAndStorageUnitsSplicesReplicaBeforeMasterLookup covers
// cacheUnits's master-before-replica install order: a replica installed
// before its master exists would wrongly log an I-SU1 violation.
func TestCreateFragmentsAndStorageUnitsSplicesReplicaBeforeMasterLookup(t *testing.T) {
	store := newTestStore(t)
	cache := metacache.New(nil)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{})
	cache.InitFragment(map[string]*meta.Fragment{})

	mgr := New(store, cache, 1, cmn.NewMetrics(nil))
	units := []UnitProposal{
		{FakeID: "u0", EngineID: 1, MasterFakeID: "u0"},
		{FakeID: "u1", EngineID: 2, ReplicaOf: "u0"},
	}
	frags := []FragmentProposal{{
		TimeSeries: meta.TimeSeriesInterval{StartSeries: "b"},
		Time:       meta.TimeInterval{Start: 0, End: meta.OpenTime},
		UnitFakeID: "u0",
	}}
	if !mgr.CreateFragmentsAndStorageUnits(units, frags) {
		t.Fatal("expected incremental creation to succeed")
	}

	if n := cache.UnitCount(); n != 2 {
		t.Fatalf("expected master+replica both visible, got %d", n)
	}
	masters := cache.UnitsByEngine(1)
	if len(masters) != 1 {
		t.Fatalf("expected 1 master on engine 1, got %d", len(masters))
	}
	if len(masters[0].Replicas) != 1 {
		t.Fatalf("expected the replica spliced into the master's replica set, got %+v", masters[0])
	}
}
