// Package manager assembles every collaborator package into one
// MetaManager facade (SPEC_FULL.md §4.7): the union of spec.md §6's
// "Exposed operations to upper layers".
//
// Grounded on spec.md §9's singleton-bootstrap design note and the
// teacher's ais/daemon.go single construction-then-run sequencing.
package manager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/dispatch"
	"github.com/chronosdb/metacore/fragment"
	"github.com/chronosdb/metacore/idgen"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
	"github.com/chronosdb/metacore/metastore"
	"github.com/chronosdb/metacore/split"
	"github.com/chronosdb/metacore/topology"
)

// MetaManager is the process-wide singleton facade (spec.md §5 point 1:
// "a single instance of the manager exists per process; its construction
// is serialized").
type MetaManager struct {
	cfg      *cmn.Config
	metrics  *cmn.Metrics
	store    metastore.MetaStore
	cache    *metacache.Cache
	idgen    *idgen.Generator
	topology *topology.Manager
	fragment *fragment.Manager
	dispatch *dispatch.Dispatcher
	split    *split.Splitter
	selfID   int64
}

var (
	singletonOnce sync.Once
	singleton     *MetaManager
	singletonErr  error
)

// New constructs (on the very first call) or returns (on every subsequent
// call) the process-wide MetaManager. Construction failure is the one
// fatal path in this core (spec.md §7): the caller should exit the
// process if err != nil.
func New(cfg *cmn.Config, reg prometheus.Registerer) (*MetaManager, error) {
	singletonOnce.Do(func() {
		singleton, singletonErr = construct(cfg, reg)
	})
	return singleton, singletonErr
}

func construct(cfg *cmn.Config, reg prometheus.Registerer) (*MetaManager, error) {
	// Step 1: open MetaStore.
	store, err := metastore.Open(cfg)
	if err != nil {
		return nil, err
	}

	metrics := cmn.NewMetrics(reg)

	// Step 2: register local node, seed idgen.
	bootGen := idgen.New(0)
	node := &meta.FrontEndNode{NodeID: bootGen.Next(), Host: cfg.Node.Host, Port: cfg.Node.Port}
	selfID, err := store.RegisterNode(node)
	if err != nil {
		return nil, err
	}
	node.NodeID = selfID
	gen := idgen.New(selfID)

	// Step 3: construct MetaCache.
	cache := metacache.New(metrics)
	cache.AddNode(node)

	topo := topology.New(store, cache, selfID, metrics)
	frag := fragment.New(store, cache, selfID, metrics)

	// Step 4: register dispatcher observers; events queue until step 7.
	disp := dispatch.New(store, cache, topo, frag, metrics)

	// Step 5: bulk-load existing state into the cache.
	if err := bulkLoad(store, cache); err != nil {
		return nil, err
	}

	// Step 6: materialize the administrator user from config if absent.
	if err := ensureAdminUser(store, cache, cfg); err != nil {
		return nil, err
	}

	// Step 7: mark cache initialized, draining any queued events.
	disp.MarkReady()

	gen2 := newDefaultFragmentGenerator(cache, cfg)
	splitter := split.New(cache, frag, gen2, int64(cfg.PrefixTableThreshold), metrics)

	return &MetaManager{
		cfg:      cfg,
		metrics:  metrics,
		store:    store,
		cache:    cache,
		idgen:    gen,
		topology: topo,
		fragment: frag,
		dispatch: disp,
		split:    splitter,
		selfID:   selfID,
	}, nil
}

func bulkLoad(store metastore.MetaStore, cache *metacache.Cache) error {
	nodes, err := store.LoadNodes()
	if err != nil {
		return err
	}
	for _, n := range nodes {
		cache.AddNode(n)
	}

	engines, err := store.LoadStorageEngines()
	if err != nil {
		return err
	}
	for _, e := range engines {
		cache.AddEngine(e)
	}

	units, err := store.LoadStorageUnits()
	if err != nil {
		return err
	}
	cache.InitStorageUnit(units)

	fragments, err := store.LoadFragments()
	if err != nil {
		return err
	}
	cache.InitFragment(fragments)

	schemas, err := store.LoadSchemaMappings()
	if err != nil {
		return err
	}
	for _, sm := range schemas {
		cache.InstallSchemaMapping(sm)
	}

	users, err := store.LoadUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		cache.PutUser(u)
	}
	return nil
}

func ensureAdminUser(store metastore.MetaStore, cache *metacache.Cache, cfg *cmn.Config) error {
	if cfg.Admin.Username == "" {
		return nil
	}
	if _, ok := cache.GetUser(cfg.Admin.Username); ok {
		return nil
	}
	admin := meta.NewUser(cfg.Admin.Username, cfg.Admin.Password, meta.Administrator,
		meta.AuthRead, meta.AuthWrite, meta.AuthAdmin, meta.AuthCluster)
	if err := store.RegisterUser(admin); err != nil {
		return err
	}
	cache.PutUser(admin)
	return nil
}

//
// Exposed operations to upper layers (spec.md §6).
//

func (m *MetaManager) RegisterStorageEngines(engines []*meta.StorageEngine) bool {
	return m.topology.AddStorageEngines(engines)
}

func (m *MetaManager) GetStorageEngineNum() int { return m.cache.EngineCount() }

func (m *MetaManager) GetEngines() meta.EngineMap { return m.cache.GetEngines() }

func (m *MetaManager) GetUnits() meta.UnitMap { return m.cache.GetUnits() }

func (m *MetaManager) GetNodes() meta.NodeMap { return m.cache.GetNodes() }

// HasFragment reports whether the cache holds at least one fragment.
func (m *MetaManager) HasFragment() bool {
	return len(m.cache.GetFragmentMapByTimeSeriesInterval(meta.TimeSeriesInterval{})) > 0
}

func (m *MetaManager) HasStorageUnit() bool { return m.cache.HasStorageUnit() }

// Split runs the Plan Splitter for plan (spec.md §4.5).
func (m *MetaManager) Split(plan split.Plan) []split.SplitInfo {
	return m.split.Split(plan)
}

// CreateInitialFragmentsAndStorageUnits exposes the Fragment Manager's
// bootstrap protocol (spec.md §4.4).
func (m *MetaManager) CreateInitialFragmentsAndStorageUnits(units []fragment.UnitProposal, fragments []fragment.FragmentProposal) bool {
	return m.fragment.CreateInitialFragmentsAndStorageUnits(units, fragments)
}

// CreateFragmentsAndStorageUnits exposes the Fragment Manager's
// incremental creation protocol (spec.md §4.4).
func (m *MetaManager) CreateFragmentsAndStorageUnits(units []fragment.UnitProposal, fragments []fragment.FragmentProposal) bool {
	return m.fragment.CreateFragmentsAndStorageUnits(units, fragments)
}

// AddOrUpdateSchemaMappingItem writes key/value into mapping name, both to
// MetaStore and, optimistically, to the local cache (spec.md §5 ordering
// guarantee). value == meta.RemoveSentinel deletes the key.
func (m *MetaManager) AddOrUpdateSchemaMappingItem(name, key string, value int64) bool {
	if err := m.store.AddOrUpdateSchemaMapping(name, key, value); err != nil {
		cmn.Log.Error().Err(err).Str("mapping", name).Str("key", key).Msg("AddOrUpdateSchemaMappingItem failed")
		return false
	}
	m.cache.ApplySchemaMapping(name, key, value)
	return true
}

func (m *MetaManager) GetSchemaMappingItem(name, key string) (int64, bool) {
	return m.cache.GetSchemaMappingItem(name, key)
}

func (m *MetaManager) GetSchemaMapping(name string) (*meta.SchemaMapping, bool) {
	return m.cache.GetSchemaMapping(name)
}

func (m *MetaManager) CreateUser(username, password string, kind meta.UserKind, auths ...meta.Auth) bool {
	u := meta.NewUser(username, password, kind, auths...)
	if err := m.store.RegisterUser(u); err != nil {
		cmn.Log.Error().Err(err).Str("user", username).Msg("CreateUser failed")
		return false
	}
	m.cache.PutUser(u)
	return true
}

// UpdateUser implements spec.md §8 scenario 6: a nil password leaves the
// stored password unchanged; a non-nil auths set replaces the prior one.
func (m *MetaManager) UpdateUser(username string, password *string, auths map[meta.Auth]struct{}) bool {
	u, ok := m.cache.GetUser(username)
	if !ok {
		return false
	}
	if password != nil {
		u.Password = *password
	}
	if auths != nil {
		u.SetAuths(auths)
	}
	if err := m.store.UpdateUser(u); err != nil {
		cmn.Log.Error().Err(err).Str("user", username).Msg("UpdateUser failed")
		return false
	}
	m.cache.PutUser(u)
	return true
}

func (m *MetaManager) RemoveUser(username string) bool {
	if err := m.store.RemoveUser(username); err != nil {
		cmn.Log.Error().Err(err).Str("user", username).Msg("RemoveUser failed")
		return false
	}
	m.cache.RemoveUser(username)
	return true
}

func (m *MetaManager) GetUser(username string) (*meta.User, bool) {
	return m.cache.GetUser(username)
}

// RegisterEngineChangeHook registers hook on the Change Dispatcher
// (spec.md §4.6).
func (m *MetaManager) RegisterEngineChangeHook(hook dispatch.EngineChangeHook) {
	m.dispatch.RegisterEngineChangeHook(hook)
}

// SelectStorageEngineIdList returns a random sample of size 1+r from the
// live engine id list (spec.md §6).
func (m *MetaManager) SelectStorageEngineIdList() []int64 {
	engines := m.cache.GetEngines()
	ids := make([]int64, 0, len(engines))
	for id := range engines {
		ids = append(ids, id)
	}
	return SelectStorageEngineIDList(ids, m.cfg.ReplicaCount)
}

// Close releases the dispatcher worker and backing MetaStore connection.
func (m *MetaManager) Close() error {
	if err := m.dispatch.Close(); err != nil {
		return err
	}
	return m.store.Close()
}
