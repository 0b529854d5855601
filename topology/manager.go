// Package topology implements the lifecycle of StorageEngines and
// StorageUnits (spec §4.3): operator-driven engine registration, and the
// change-event filtering/splicing rules that keep storage-unit replica
// sets consistent across concurrent, out-of-order peer updates.
//
// Grounded on the teacher's cluster/map.go NodeMapDelta diffing idiom and
// the event-driven update style of ais/*runner handlers.
package topology

import (
	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metacache"
	"github.com/chronosdb/metacore/metastore"
)

// Manager owns StorageEngine/StorageUnit lifecycle against one MetaStore
// and one MetaCache.
type Manager struct {
	store   metastore.MetaStore
	cache   *metacache.Cache
	selfID  int64
	metrics *cmn.Metrics
}

func New(store metastore.MetaStore, cache *metacache.Cache, selfID int64, metrics *cmn.Metrics) *Manager {
	return &Manager{store: store, cache: cache, selfID: selfID, metrics: metrics}
}

// AddStorageEngines publishes each engine to MetaStore and installs it into
// cache. It is all-or-nothing per engine: on the first MetaStorageError it
// stops and returns false, leaving engines already added in place (spec
// §4.3: "does not roll back already-added engines; the operator retries").
func (m *Manager) AddStorageEngines(engines []*meta.StorageEngine) bool {
	for _, e := range engines {
		e.CreatorNodeID = m.selfID
		id, err := m.store.RegisterStorageEngine(e)
		if err != nil {
			cmn.Log.Error().Err(err).Msg("AddStorageEngines: failed to register engine")
			return false
		}
		e.EngineID = id
		m.cache.AddEngine(e)
	}
	return true
}

// HandleEngineChange is wired as the MetaStore engine observer. Engines are
// never removed by this core (spec §9 open question), so a nil engine is a
// no-op.
func (m *Manager) HandleEngineChange(id int64, engine *meta.StorageEngine) {
	if engine == nil {
		return
	}
	if engine.CreatorNodeID == m.selfID {
		if m.metrics != nil {
			m.metrics.ChangeEventsSkipped.Inc()
		}
		return
	}
	m.cache.AddEngine(engine)
	if m.metrics != nil {
		m.metrics.ChangeEventsApplied.Inc()
	}
}

// HandleUnitChange is wired as the MetaStore storage-unit observer. It
// implements the filter and splice/swap rules of spec §4.3.
func (m *Manager) HandleUnitChange(id string, unit *meta.StorageUnit) {
	if unit == nil {
		return // no delete path for storage units (spec §9 open question)
	}
	if unit.CreatorNodeID == m.selfID {
		m.skip()
		return
	}
	if unit.Initial {
		m.skip()
		return
	}
	if !m.cache.HasStorageUnit() {
		m.skip()
		return
	}

	if _, existed := m.cache.GetUnit(unit.UnitID); !existed {
		if ok := m.cache.AddUnit(unit); !ok {
			cmn.Log.Warn().Str("unit", unit.UnitID).Str("master", unit.MasterUnitID).
				Msg("invariant violation: replica references absent master (I-SU1)")
		}
	} else {
		m.cache.UpdateUnit(unit)
	}
	if m.metrics != nil {
		m.metrics.ChangeEventsApplied.Inc()
	}
}

func (m *Manager) skip() {
	if m.metrics != nil {
		m.metrics.ChangeEventsSkipped.Inc()
	}
}
