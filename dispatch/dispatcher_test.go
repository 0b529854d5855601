package dispatch

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/fragment"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
	"github.com/chronosdb/metacore/metastore/file"
	"github.com/chronosdb/metacore/topology"
)

func newHarness(t *testing.T) (*Dispatcher, *metacache.Cache) {
	t.Helper()
	store, err := file.Open(filepath.Join(t.TempDir(), "meta.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	metrics := cmn.NewMetrics(nil)
	cache := metacache.New(metrics)
	topo := topology.New(store, cache, 1, metrics)
	frag := fragment.New(store, cache, 1, metrics)
	d := New(store, cache, topo, frag, metrics)
	t.Cleanup(func() { _ = d.Close() })
	return d, cache
}

// waitFor polls cond for up to a short deadline; the worker goroutine
// applies events asynchronously off the calling goroutine.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestEventsQueueUntilReady covers SPEC_FULL.md §4.7 step 4: events
// observed before MarkReady must not be dropped, only delayed.
func TestEventsQueueUntilReady(t *testing.T) {
	d, cache := newHarness(t)

	d.onNode(9, &meta.FrontEndNode{NodeID: 9, Host: "h", Port: 1})

	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.GetNode(9); ok {
		t.Fatal("event should not be applied before MarkReady")
	}

	d.MarkReady()
	waitFor(t, func() bool { _, ok := cache.GetNode(9); return ok })
}

func TestEventsAppliedImmediatelyAfterReady(t *testing.T) {
	d, cache := newHarness(t)
	d.MarkReady()

	d.onNode(3, &meta.FrontEndNode{NodeID: 3, Host: "h", Port: 2})
	waitFor(t, func() bool { _, ok := cache.GetNode(3); return ok })
}

func TestEngineChangeHookFanOutAndErrorIsolation(t *testing.T) {
	d, _ := newHarness(t)
	d.MarkReady()

	var mu sync.Mutex
	var calls []string

	d.RegisterEngineChangeHook(func(id int64, engine *meta.StorageEngine) error {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
		return assertError{}
	})
	d.RegisterEngineChangeHook(func(id int64, engine *meta.StorageEngine) error {
		mu.Lock()
		calls = append(calls, "second")
		mu.Unlock()
		return nil
	})

	d.onEngine(1, &meta.StorageEngine{EngineID: 1})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	})
}

type assertError struct{}

func (assertError) Error() string { return "hook failure" }
