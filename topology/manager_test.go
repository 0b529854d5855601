package topology

import (
	"path/filepath"
	"testing"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
	"github.com/chronosdb/metacore/metastore/file"
)

func TestAddStorageEnginesInstallsIntoCache(t *testing.T) {
	store, err := file.Open(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cache := metacache.New(nil)
	mgr := New(store, cache, 1, cmn.NewMetrics(nil))

	engines := []*meta.StorageEngine{{Endpoint: "host-a:9000", Kind: "iotdb"}, {Endpoint: "host-b:9000", Kind: "iotdb"}}
	if !mgr.AddStorageEngines(engines) {
		t.Fatal("expected AddStorageEngines to succeed")
	}
	if cache.EngineCount() != 2 {
		t.Fatalf("expected 2 engines in cache, got %d", cache.EngineCount())
	}
	for _, e := range engines {
		if e.CreatorNodeID != 1 {
			t.Fatalf("expected engine to be stamped with creator node id")
		}
	}
}

func TestHandleEngineChangeSkipsSelfEcho(t *testing.T) {
	cache := metacache.New(nil)
	mgr := New(nil, cache, 1, cmn.NewMetrics(nil))

	mgr.HandleEngineChange(5, &meta.StorageEngine{EngineID: 5, CreatorNodeID: 1})
	if cache.EngineCount() != 0 {
		t.Fatal("self-originated engine change should not be re-applied")
	}

	mgr.HandleEngineChange(5, &meta.StorageEngine{EngineID: 5, CreatorNodeID: 2})
	if cache.EngineCount() != 1 {
		t.Fatal("remote engine change should be applied")
	}
}

// TestHandleUnitChangeReplicaAbsentMasterInvariant covers I-SU1: a replica
// change event whose master is not (yet) in the cache must not panic, and
// must not be silently accepted as if the splice succeeded.
func TestHandleUnitChangeReplicaAbsentMasterInvariant(t *testing.T) {
	cache := metacache.New(nil)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{})
	mgr := New(nil, cache, 1, cmn.NewMetrics(nil))

	replica := &meta.StorageUnit{UnitID: "r1", MasterUnitID: "missing-master", CreatorNodeID: 2}
	mgr.HandleUnitChange(replica.UnitID, replica)

	if _, ok := cache.GetUnit("r1"); !ok {
		t.Fatal("replica should still be recorded locally even if its master is absent")
	}
	if _, ok := cache.GetUnit("missing-master"); ok {
		t.Fatal("absent master must not be fabricated")
	}
}

func TestHandleUnitChangeSkipsBeforeBulkLoad(t *testing.T) {
	cache := metacache.New(nil)
	mgr := New(nil, cache, 1, cmn.NewMetrics(nil))

	mgr.HandleUnitChange("u1", &meta.StorageUnit{UnitID: "u1", MasterUnitID: "u1", CreatorNodeID: 2})
	if _, ok := cache.GetUnit("u1"); ok {
		t.Fatal("unit change arriving before HasStorageUnit() should be skipped, not applied")
	}
}

func TestHandleUnitChangeUpdateSwapsReplicaSet(t *testing.T) {
	cache := metacache.New(nil)
	cache.InitStorageUnit(map[string]*meta.StorageUnit{
		"m1": {UnitID: "m1", MasterUnitID: "m1"},
		"r1": {UnitID: "r1", MasterUnitID: "m1"},
	})
	master, _ := cache.GetUnit("m1")
	master.AddReplica("r1")
	cache.UpdateUnit(master)

	mgr := New(nil, cache, 1, cmn.NewMetrics(nil))
	mgr.HandleUnitChange("r1", &meta.StorageUnit{UnitID: "r1", MasterUnitID: "m1", CreatorNodeID: 2})

	m, ok := cache.GetUnit("m1")
	if !ok || len(m.Replicas) != 1 || m.Replicas[0] != "r1" {
		t.Fatalf("expected master's replica set to still contain r1, got %+v", m)
	}
}
