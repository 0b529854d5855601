// Package dispatch implements the Change Dispatcher (spec §4.6): one
// MetaStore observer per entity kind, routed through a single-writer
// queue (spec §9 "route all MetaStore events through a single-writer
// queue consumed by a dedicated worker"), then forwarded to the
// filtering managers or directly into MetaCache.
//
// Grounded on golang.org/x/sync/errgroup for worker lifecycle, the same
// dependency the teacher carries for goroutine-group supervision
// (generalized here from aistore's broadcast fan-out to a fan-in drain
// loop).
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/fragment"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
	"github.com/chronosdb/metacore/metastore"
	"github.com/chronosdb/metacore/topology"
)

// EngineChangeHook is a user-registered callback fired for every non-nil
// StorageEngine change event, after topology.Manager.HandleEngineChange has
// processed it; this includes self-originated events, which
// HandleEngineChange skips instead of applying. Hooks run on the
// dispatcher's worker goroutine and must not block (spec §9).
type EngineChangeHook func(id int64, engine *meta.StorageEngine) error

// Dispatcher owns the single-writer queue that every MetaStore observer
// callback funnels through, plus the pending-event buffer used before
// the owning manager finishes its bulk load (SPEC_FULL.md §4.7 step 4:
// "queued, never dropped").
type Dispatcher struct {
	cache    *metacache.Cache
	topology *topology.Manager
	fragment *fragment.Manager
	metrics  *cmn.Metrics

	queue  chan func()
	cancel context.CancelFunc
	eg     *errgroup.Group

	mu      sync.Mutex
	ready   bool
	pending []func()

	hooksMu sync.RWMutex
	hooks   []EngineChangeHook
}

// New wires one observer per entity kind onto store and starts the
// drain worker. The returned Dispatcher queues every event until
// MarkReady is called.
func New(store metastore.MetaStore, cache *metacache.Cache, topo *topology.Manager, frag *fragment.Manager, metrics *cmn.Metrics) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)

	d := &Dispatcher{
		cache:    cache,
		topology: topo,
		fragment: frag,
		metrics:  metrics,
		queue:    make(chan func(), 256),
		cancel:   cancel,
		eg:       eg,
	}

	eg.Go(func() error {
		for {
			select {
			case fn := <-d.queue:
				fn()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	store.OnNodeChange(d.onNode)
	store.OnEngineChange(d.onEngine)
	store.OnUnitChange(d.onUnit)
	store.OnFragmentChange(d.onFragment)
	store.OnSchemaChange(d.onSchema)
	store.OnUserChange(d.onUser)

	return d
}

// RegisterEngineChangeHook appends hook to the ordered, best-effort fan
// out list invoked after every non-nil StorageEngine change event (spec §4.6).
func (d *Dispatcher) RegisterEngineChangeHook(hook EngineChangeHook) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.hooks = append(d.hooks, hook)
}

// MarkReady flips the dispatcher into normal operation, draining every
// event queued since construction, in arrival order, onto the worker.
func (d *Dispatcher) MarkReady() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = true
	for _, fn := range d.pending {
		d.queue <- fn
	}
	d.pending = nil
}

// Close stops the drain worker. Queued-but-undrained events are
// discarded.
func (d *Dispatcher) Close() error {
	d.cancel()
	err := d.eg.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (d *Dispatcher) submit(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		d.pending = append(d.pending, fn)
		return
	}
	d.queue <- fn
}

func (d *Dispatcher) onNode(id int64, node *meta.FrontEndNode) {
	d.submit(func() {
		if node == nil {
			d.cache.RemoveNode(id)
			return
		}
		d.cache.AddNode(node)
	})
}

func (d *Dispatcher) onEngine(id int64, engine *meta.StorageEngine) {
	d.submit(func() {
		d.topology.HandleEngineChange(id, engine)
		if engine == nil {
			return
		}
		d.hooksMu.RLock()
		hooks := append([]EngineChangeHook(nil), d.hooks...)
		d.hooksMu.RUnlock()
		for _, hook := range hooks {
			func() {
				defer func() {
					if r := recover(); r != nil {
						cmn.Log.Error().Interface("panic", r).Int64("engine", id).Msg("engine-change hook panicked")
					}
				}()
				if err := hook(id, engine); err != nil {
					cmn.Log.Error().Err(err).Int64("engine", id).Msg("engine-change hook failed")
				}
			}()
		}
	})
}

func (d *Dispatcher) onUnit(id string, unit *meta.StorageUnit) {
	d.submit(func() { d.topology.HandleUnitChange(id, unit) })
}

func (d *Dispatcher) onFragment(key string, f *meta.Fragment) {
	d.submit(func() { d.fragment.HandleFragmentChange(key, f) })
}

func (d *Dispatcher) onSchema(name string, mapping *meta.SchemaMapping) {
	d.submit(func() {
		if mapping == nil {
			return
		}
		d.cache.InstallSchemaMapping(mapping)
	})
}

func (d *Dispatcher) onUser(username string, user *meta.User) {
	d.submit(func() {
		if user == nil {
			d.cache.RemoveUser(username)
			return
		}
		d.cache.PutUser(user)
	})
}
