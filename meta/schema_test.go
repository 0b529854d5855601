package meta

import "testing"

func TestSchemaMappingApplyAndRemove(t *testing.T) {
	sm := &SchemaMapping{Name: "m1", Items: map[string]int64{}}
	sm.Apply("root.a", 3)
	if v, ok := sm.Get("root.a"); !ok || v != 3 {
		t.Fatalf("expected (3, true), got (%d, %v)", v, ok)
	}

	sm.Apply("root.a", RemoveSentinel)
	if _, ok := sm.Get("root.a"); ok {
		t.Fatal("expected key to be removed")
	}
}

func TestSchemaMappingCloneIsIndependent(t *testing.T) {
	sm := &SchemaMapping{Name: "m1", Items: map[string]int64{"k": 1}}
	cp := sm.Clone()
	cp.Apply("k", 2)
	if v, _ := sm.Get("k"); v != 1 {
		t.Fatal("mutating a clone must not affect the original mapping")
	}
}
