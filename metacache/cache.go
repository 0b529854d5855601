// Package metacache implements the in-memory index of cluster state
// (spec §4.2): nodes, storage engines, storage units, and a range-queryable
// fragment index. All public methods are thread-safe; each logical index
// (nodes, engines, units, fragments, schemas, users) is guarded by its own
// sync.RWMutex, following the teacher's copy-on-read cluster.Smap idiom
// (cluster/map.go) generalized from one index to several.
package metacache

import (
	"sync"
	"sync/atomic"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
)

// Cache is the process-local, backend-agnostic view of cluster state.
type Cache struct {
	metrics *cmn.Metrics

	nodesMu sync.RWMutex
	nodes   meta.NodeMap

	enginesMu sync.RWMutex
	engines   meta.EngineMap

	unitsMu      sync.RWMutex
	units        meta.UnitMap
	engineUnits  map[int64]map[string]struct{} // engineId -> unit ids

	fragMu   sync.RWMutex
	byTS     map[string]meta.FragmentList // series-interval key -> fragments, sorted by Time.Start
	tsValues map[string]meta.TimeSeriesInterval
	tsOrder  []string // insertion order of series-interval keys
	latest   map[string]*meta.Fragment // series-interval key -> open fragment, if any

	schemaMu sync.RWMutex
	schemas  map[string]*meta.SchemaMapping

	usersMu sync.RWMutex
	users   map[string]*meta.User

	hasUnit atomic.Bool
	hasFrag atomic.Bool
}

func New(metrics *cmn.Metrics) *Cache {
	return &Cache{
		metrics:     metrics,
		nodes:       meta.NodeMap{},
		engines:     meta.EngineMap{},
		units:       meta.UnitMap{},
		engineUnits: map[int64]map[string]struct{}{},
		byTS:        map[string]meta.FragmentList{},
		tsValues:    map[string]meta.TimeSeriesInterval{},
		latest:      map[string]*meta.Fragment{},
		schemas:     map[string]*meta.SchemaMapping{},
		users:       map[string]*meta.User{},
	}
}

//
// FrontEndNode
//

func (c *Cache) AddNode(n *meta.FrontEndNode) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	c.nodes[n.NodeID] = n.Clone()
}

func (c *Cache) RemoveNode(id int64) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	delete(c.nodes, id)
}

func (c *Cache) GetNode(id int64) (*meta.FrontEndNode, bool) {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	n, ok := c.nodes[id]
	return n.Clone(), ok
}

func (c *Cache) GetNodes() meta.NodeMap {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	return c.nodes.Clone()
}

//
// StorageEngine
//

func (c *Cache) AddEngine(e *meta.StorageEngine) {
	c.enginesMu.Lock()
	defer c.enginesMu.Unlock()
	c.engines[e.EngineID] = e.Clone()
}

func (c *Cache) GetEngine(id int64) (*meta.StorageEngine, bool) {
	c.enginesMu.RLock()
	defer c.enginesMu.RUnlock()
	e, ok := c.engines[id]
	return e.Clone(), ok
}

func (c *Cache) GetEngines() meta.EngineMap {
	c.enginesMu.RLock()
	defer c.enginesMu.RUnlock()
	return c.engines.Clone()
}

func (c *Cache) EngineCount() int {
	c.enginesMu.RLock()
	defer c.enginesMu.RUnlock()
	return len(c.engines)
}
