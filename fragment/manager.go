// Package fragment implements cluster-wide fragment/storage-unit
// lifecycle: the exactly-once initial bootstrap, incremental batch
// creation, and change-event application (spec §4.4).
//
// Grounded on the teacher's ais/transaction.go locked multi-step publish
// protocol and ais/rebmeta.go's load-or-compute-then-persist idiom,
// generalized from aistore's single bucket-metadata object to this spec's
// two-phase unit-then-fragment publish sequence.
package fragment

import (
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
	"github.com/chronosdb/metacore/metastore"
)

// Manager drives the locked publish protocol of spec §4.4 against one
// MetaStore and installs results into one MetaCache.
type Manager struct {
	store   metastore.MetaStore
	cache   *metacache.Cache
	selfID  int64
	metrics *cmn.Metrics

	// sf collapses concurrent *local* bootstrap callers onto a single
	// MetaStore round trip (SPEC_FULL.md §9 "Synchronization primitives"):
	// a purely local optimization, not part of the cross-process protocol.
	sf singleflight.Group
}

func New(store metastore.MetaStore, cache *metacache.Cache, selfID int64, metrics *cmn.Metrics) *Manager {
	return &Manager{store: store, cache: cache, selfID: selfID, metrics: metrics}
}

// UnitProposal is one entry of the caller's initial or incremental
// storage-unit batch. FakeID is a placeholder the caller uses to cross
// reference proposed units and fragments before the Manager assigns real,
// MetaStore-minted ids (spec §4.4 step 5, §9 "fake-id rewriting").
type UnitProposal struct {
	FakeID       string
	EngineID     int64
	MasterFakeID string // == FakeID for a master proposal
	ReplicaOf    string // FakeID of the master, if this is a replica proposal
}

func (p UnitProposal) IsMaster() bool { return p.MasterFakeID == p.FakeID || p.ReplicaOf == "" }

// FragmentProposal is one entry of the caller's fragment batch, addressed
// to a placeholder storage-unit FakeID rather than a real unit id.
type FragmentProposal struct {
	TimeSeries   meta.TimeSeriesInterval
	Time         meta.TimeInterval
	UnitFakeID   string
}

type resolved struct {
	realUnits map[string]*meta.StorageUnit // real id -> unit (as published)
	fakeToReal map[string]string
}

// publishUnits implements bootstrap step 5 / incremental step 2: reserve
// real ids for every proposed unit, rewrite self- and master-references,
// splice replicas into their master's set, and publish. It returns the
// fake->real translation table plus the published units, keyed by real id.
func (m *Manager) publishUnits(proposals []UnitProposal) (*resolved, error) {
	r := &resolved{realUnits: map[string]*meta.StorageUnit{}, fakeToReal: map[string]string{}}

	var masters, replicas []UnitProposal
	for _, p := range proposals {
		if p.ReplicaOf == "" {
			masters = append(masters, p)
		} else {
			replicas = append(replicas, p)
		}
	}

	for _, p := range masters {
		realID, err := m.store.AddStorageUnit()
		if err != nil {
			return nil, err
		}
		r.fakeToReal[p.FakeID] = realID
		u := &meta.StorageUnit{UnitID: realID, EngineID: p.EngineID, MasterUnitID: realID, CreatorNodeID: m.selfID}
		if err := m.store.UpdateStorageUnit(u); err != nil {
			return nil, err
		}
		r.realUnits[realID] = u
	}

	touchedMasters := map[string]bool{}
	for _, p := range replicas {
		realID, err := m.store.AddStorageUnit()
		if err != nil {
			return nil, err
		}
		r.fakeToReal[p.FakeID] = realID
		realMasterID, ok := r.fakeToReal[p.ReplicaOf]
		if !ok {
			return nil, cmn.Invariant("fragment: replica proposal %s references unknown master proposal %s", p.FakeID, p.ReplicaOf)
		}
		u := &meta.StorageUnit{UnitID: realID, EngineID: p.EngineID, MasterUnitID: realMasterID, CreatorNodeID: m.selfID}
		if err := m.store.UpdateStorageUnit(u); err != nil {
			return nil, err
		}
		r.realUnits[realID] = u
		master := r.realUnits[realMasterID]
		master.AddReplica(realID)
		touchedMasters[realMasterID] = true
	}
	for masterID := range touchedMasters {
		if err := m.store.UpdateStorageUnit(r.realUnits[masterID]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// publishFragments implements bootstrap step 6 / incremental step 4:
// resolve each proposal's placeholder unit id to a real master unit id
// (replicas are rewritten to point at their master, per spec), sort by
// start time, stamp creator, and publish. initial must be true only for
// the one-shot bootstrap batch: HandleFragmentChange treats Initial as a
// permanent skip marker, so stamping it on incrementally-created fragments
// would make them unobservable by every peer forever.
func (m *Manager) publishFragments(proposals []FragmentProposal, r *resolved, initial bool) ([]*meta.Fragment, error) {
	sorted := append([]FragmentProposal(nil), proposals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Start < sorted[j].Time.Start })

	published := make([]*meta.Fragment, 0, len(sorted))
	for _, p := range sorted {
		realUnitID, ok := r.fakeToReal[p.UnitFakeID]
		if !ok {
			return nil, cmn.Invariant("fragment: proposal references unknown unit placeholder %s", p.UnitFakeID)
		}
		unit := r.realUnits[realUnitID]
		masterID := realUnitID
		if !unit.IsMaster() {
			masterID = unit.MasterUnitID
		}
		f := &meta.Fragment{
			TimeSeries:    p.TimeSeries,
			Time:          p.Time,
			MasterUnitID:  masterID,
			CreatorNodeID: m.selfID,
			Initial:       initial,
		}
		if err := m.store.AddFragment(f.Key(), f); err != nil {
			return nil, err
		}
		published = append(published, f)
	}
	return published, nil
}

// CreateInitialFragmentsAndStorageUnits implements spec §4.4's bootstrap
// protocol: exactly one front-end's proposal wins the cluster-wide race.
func (m *Manager) CreateInitialFragmentsAndStorageUnits(units []UnitProposal, fragments []FragmentProposal) bool {
	if m.metrics != nil {
		m.metrics.BootstrapAttempts.Inc()
	}
	v, _, _ := m.sf.Do("bootstrap", func() (interface{}, error) {
		return m.bootstrap(units, fragments), nil
	})
	won := v.(bool)
	if won && m.metrics != nil {
		m.metrics.BootstrapWins.Inc()
	}
	return won
}

func (m *Manager) bootstrap(units []UnitProposal, fragments []FragmentProposal) bool {
	// step 1: fast path
	if m.cache.HasFragment() && m.cache.HasStorageUnit() {
		return false
	}

	// step 2: lock fragment, then storage-unit (canonical order, spec §5)
	if err := m.store.LockFragment(); err != nil {
		cmn.Log.Error().Err(err).Msg("bootstrap: LockFragment failed")
		return false
	}
	defer m.store.ReleaseFragment()
	if err := m.store.LockStorageUnit(); err != nil {
		cmn.Log.Error().Err(err).Msg("bootstrap: LockStorageUnit failed")
		return false
	}
	defer m.store.ReleaseStorageUnit()

	// step 3: re-check fast path under lock
	if m.cache.HasFragment() && m.cache.HasStorageUnit() {
		return false
	}

	// step 4: did another node already win?
	globalUnits, err := m.store.LoadStorageUnits()
	if err != nil {
		cmn.Log.Error().Err(err).Msg("bootstrap: LoadStorageUnits failed")
		return false
	}
	if len(globalUnits) > 0 {
		globalFrags, err := m.store.LoadFragments()
		if err != nil {
			cmn.Log.Error().Err(err).Msg("bootstrap: LoadFragments failed")
			return false
		}
		m.cache.InitStorageUnit(globalUnits)
		m.cache.InitFragment(globalFrags)
		return false
	}

	// step 5: this node initializes.
	r, err := m.publishUnits(units)
	if err != nil {
		cmn.Log.Error().Err(err).Msg("bootstrap: publishUnits failed")
		return false
	}

	// step 6
	if _, err := m.publishFragments(fragments, r, true); err != nil {
		cmn.Log.Error().Err(err).Msg("bootstrap: publishFragments failed")
		return false
	}

	// step 7: reload from MetaStore so our cache matches what peers will see.
	finalUnits, err := m.store.LoadStorageUnits()
	if err != nil {
		cmn.Log.Error().Err(err).Msg("bootstrap: reload LoadStorageUnits failed")
		return false
	}
	finalFrags, err := m.store.LoadFragments()
	if err != nil {
		cmn.Log.Error().Err(err).Msg("bootstrap: reload LoadFragments failed")
		return false
	}
	m.cache.InitStorageUnit(finalUnits)
	m.cache.InitFragment(finalFrags)

	// step 8: locks released by the deferred calls above, in reverse order.
	return true
}

// CreateFragmentsAndStorageUnits implements spec §4.4's incremental
// creation: closes each series interval's currently-open fragment before
// installing the new batch, under the same fragment-before-storageUnit
// lock order.
func (m *Manager) CreateFragmentsAndStorageUnits(units []UnitProposal, fragments []FragmentProposal) bool {
	if err := m.store.LockFragment(); err != nil {
		cmn.Log.Error().Err(err).Msg("incremental: LockFragment failed")
		return false
	}
	defer m.store.ReleaseFragment()
	if err := m.store.LockStorageUnit(); err != nil {
		cmn.Log.Error().Err(err).Msg("incremental: LockStorageUnit failed")
		return false
	}
	defer m.store.ReleaseStorageUnit()

	r, err := m.publishUnits(units)
	if err != nil {
		cmn.Log.Error().Err(err).Msg("incremental: publishUnits failed")
		return false
	}
	// spec §5: a local write to MetaStore must be visible in MetaCache
	// before this method returns. HandleUnitChange/HandleFragmentChange
	// will never backfill it — both skip events this node created.
	m.cacheUnits(r)

	if err := m.closeLatestFragments(fragments); err != nil {
		cmn.Log.Error().Err(err).Msg("incremental: closeLatestFragments failed")
		return false
	}

	published, err := m.publishFragments(fragments, r, false)
	if err != nil {
		cmn.Log.Error().Err(err).Msg("incremental: publishFragments failed")
		return false
	}
	for _, f := range published {
		m.cache.AddFragment(f)
	}
	return true
}

// cacheUnits installs a resolved unit batch into the cache, masters before
// replicas, so AddUnit never reports a spurious I-SU1 absent-master warning
// for a replica whose master was minted in the same batch.
func (m *Manager) cacheUnits(r *resolved) {
	var masters, replicas []*meta.StorageUnit
	for _, u := range r.realUnits {
		if u.IsMaster() {
			masters = append(masters, u)
		} else {
			replicas = append(replicas, u)
		}
	}
	for _, u := range masters {
		m.cache.AddUnit(u)
	}
	for _, u := range replicas {
		if ok := m.cache.AddUnit(u); !ok {
			cmn.Log.Warn().Str("unit", u.UnitID).Str("master", u.MasterUnitID).
				Msg("invariant violation: replica references absent master unit")
		}
	}
}

// closeLatestFragments closes, per touched series interval, the
// currently-open fragment at the new batch's earliest start time, and
// publishes the closure before any new fragment for that interval is
// added — so readers never observe two open fragments (I-F1).
func (m *Manager) closeLatestFragments(fragments []FragmentProposal) error {
	bySeries := map[string][]FragmentProposal{}
	var order []string
	for _, f := range fragments {
		key := f.TimeSeries.Key()
		if _, ok := bySeries[key]; !ok {
			order = append(order, key)
		}
		bySeries[key] = append(bySeries[key], f)
	}
	for _, key := range order {
		group := bySeries[key]
		sort.Slice(group, func(i, j int) bool { return group[i].Time.Start < group[j].Time.Start })
		ts := group[0].TimeSeries
		closed := m.cache.CloseLatest(ts, group[0].Time.Start)
		if closed == nil {
			continue
		}
		closed.UpdaterNodeID = m.selfID
		if err := m.store.UpdateFragment(closed.Key(), closed); err != nil {
			return err
		}
	}
	return nil
}

// HandleFragmentChange is wired as the MetaStore fragment observer. It
// mirrors topology.Manager.HandleUnitChange's filter rules for fragments
// (spec §4.4 "Change-event handling for Fragments").
func (m *Manager) HandleFragmentChange(key string, f *meta.Fragment) {
	if f == nil {
		return // fragments are never removed (spec §9 open question)
	}
	if f.Initial {
		m.skip()
		return
	}
	if !m.cache.HasFragment() {
		m.skip()
		return
	}

	existing := m.lookupByKey(key)
	if existing == nil {
		if f.CreatorNodeID == m.selfID {
			m.skip()
			return
		}
		if _, ok := m.cache.GetUnit(f.MasterUnitID); !ok {
			cmn.Log.Warn().Str("fragment", key).Str("master", f.MasterUnitID).
				Msg("invariant violation: fragment references absent master unit")
			return
		}
		m.cache.AddFragment(f)
	} else {
		if f.UpdaterNodeID == m.selfID {
			m.skip()
			return
		}
		m.cache.UpdateFragment(f)
	}
	if m.metrics != nil {
		m.metrics.ChangeEventsApplied.Inc()
	}
}

func (m *Manager) lookupByKey(key string) *meta.Fragment {
	groups := m.cache.GetFragmentMapByTimeSeriesInterval(meta.TimeSeriesInterval{})
	for _, g := range groups {
		for _, f := range g.Fragments {
			if f.Key() == key {
				return f
			}
		}
	}
	return nil
}

func (m *Manager) skip() {
	if m.metrics != nil {
		m.metrics.ChangeEventsSkipped.Inc()
	}
}
