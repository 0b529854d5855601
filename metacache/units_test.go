package metacache

import (
	"testing"

	"github.com/chronosdb/metacore/meta"
)

func TestAddUnitSplicesReplicaIntoMaster(t *testing.T) {
	c := New(nil)
	c.InitStorageUnit(map[string]*meta.StorageUnit{})
	c.AddUnit(&meta.StorageUnit{UnitID: "m1", MasterUnitID: "m1"})

	ok := c.AddUnit(&meta.StorageUnit{UnitID: "r1", MasterUnitID: "m1"})
	if !ok {
		t.Fatal("expected AddUnit to succeed when master is present")
	}
	master, _ := c.GetUnit("m1")
	if len(master.Replicas) != 1 || master.Replicas[0] != "r1" {
		t.Fatalf("expected master to list r1 as a replica, got %+v", master.Replicas)
	}
}

func TestAddUnitReportsFalseForAbsentMaster(t *testing.T) {
	c := New(nil)
	c.InitStorageUnit(map[string]*meta.StorageUnit{})

	ok := c.AddUnit(&meta.StorageUnit{UnitID: "r1", MasterUnitID: "nonexistent"})
	if ok {
		t.Fatal("expected AddUnit to report failure when master is absent (I-SU1)")
	}
	if _, found := c.GetUnit("r1"); !found {
		t.Fatal("the replica itself should still be recorded for later reconciliation")
	}
}

func TestUpdateUnitPreservesReplicasWhenMasterIsRepublished(t *testing.T) {
	c := New(nil)
	c.InitStorageUnit(map[string]*meta.StorageUnit{})
	c.AddUnit(&meta.StorageUnit{UnitID: "m1", MasterUnitID: "m1"})
	c.AddUnit(&meta.StorageUnit{UnitID: "r1", MasterUnitID: "m1"})

	c.UpdateUnit(&meta.StorageUnit{UnitID: "m1", MasterUnitID: "m1", EngineID: 42})

	master, _ := c.GetUnit("m1")
	if master.EngineID != 42 {
		t.Fatalf("expected republished field to apply, got engine %d", master.EngineID)
	}
	if len(master.Replicas) != 1 || master.Replicas[0] != "r1" {
		t.Fatalf("expected replica set to survive republish, got %+v", master.Replicas)
	}
}
