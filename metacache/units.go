package metacache

import "github.com/chronosdb/metacore/meta"

// HasStorageUnit reports whether the cache has completed its initial
// storage-unit load (spec §4.2 "hasStorageUnit() ... report initialization
// state").
func (c *Cache) HasStorageUnit() bool { return c.hasUnit.Load() }

// InitStorageUnit bulk-installs units exactly once; a subsequent call is a
// no-op (spec §4.2 "idempotent if already initialized").
func (c *Cache) InitStorageUnit(units map[string]*meta.StorageUnit) {
	if c.hasUnit.Load() {
		return
	}
	c.unitsMu.Lock()
	for id, u := range units {
		c.putUnitLocked(u.Clone())
		_ = id
	}
	c.unitsMu.Unlock()
	c.hasUnit.Store(true)
	if c.metrics != nil {
		c.metrics.StorageUnits.Set(float64(len(units)))
	}
}

func (c *Cache) putUnitLocked(u *meta.StorageUnit) {
	c.units[u.UnitID] = u
	if c.engineUnits[u.EngineID] == nil {
		c.engineUnits[u.EngineID] = map[string]struct{}{}
	}
	c.engineUnits[u.EngineID][u.UnitID] = struct{}{}
}

func (c *Cache) GetUnit(id string) (*meta.StorageUnit, bool) {
	c.unitsMu.RLock()
	defer c.unitsMu.RUnlock()
	u, ok := c.units[id]
	return u.Clone(), ok
}

func (c *Cache) GetUnits() meta.UnitMap {
	c.unitsMu.RLock()
	defer c.unitsMu.RUnlock()
	return c.units.Clone()
}

func (c *Cache) UnitCount() int {
	c.unitsMu.RLock()
	defer c.unitsMu.RUnlock()
	return len(c.units)
}

func (c *Cache) UnitsByEngine(engineID int64) []*meta.StorageUnit {
	c.unitsMu.RLock()
	defer c.unitsMu.RUnlock()
	ids := c.engineUnits[engineID]
	out := make([]*meta.StorageUnit, 0, len(ids))
	for id := range ids {
		out = append(out, c.units[id].Clone())
	}
	return out
}

// AddUnit installs a brand-new unit. If it is a replica, it is spliced into
// its master's replica set; ok is false if the master is absent, which the
// caller should log as an I-SU1 violation (spec §4.3).
func (c *Cache) AddUnit(u *meta.StorageUnit) (ok bool) {
	c.unitsMu.Lock()
	defer c.unitsMu.Unlock()
	c.putUnitLocked(u.Clone())
	if u.IsMaster() {
		if c.metrics != nil {
			c.metrics.StorageUnits.Set(float64(len(c.units)))
		}
		return true
	}
	master, exists := c.units[u.MasterUnitID]
	if !exists {
		return false
	}
	master.AddReplica(u.UnitID)
	if c.metrics != nil {
		c.metrics.StorageUnits.Set(float64(len(c.units)))
	}
	return true
}

// UpdateUnit replaces an existing unit. If the new version is a master, the
// previous replica set is preserved; if it is a replica, it is swapped into
// its master's replica set in place of the prior version (spec §4.3).
func (c *Cache) UpdateUnit(u *meta.StorageUnit) (ok bool) {
	c.unitsMu.Lock()
	defer c.unitsMu.Unlock()
	prev, existed := c.units[u.UnitID]
	next := u.Clone()
	if next.IsMaster() && existed {
		next.Replicas = append([]string(nil), prev.Replicas...)
	}
	if existed && !prev.IsMaster() {
		if oldMaster, exists := c.units[prev.MasterUnitID]; exists {
			oldMaster.RemoveReplica(prev.UnitID)
		}
	}
	c.putUnitLocked(next)
	if !next.IsMaster() {
		master, exists := c.units[next.MasterUnitID]
		if !exists {
			return false
		}
		master.AddReplica(next.UnitID)
	}
	return true
}
