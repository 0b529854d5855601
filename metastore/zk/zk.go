// Package zk implements metastore.MetaStore against a ZooKeeper-class
// coordination service using github.com/go-zookeeper/zk. Locks use the
// classic ZK recipe: an ephemeral sequential child of a lock node; the
// holder is whichever session created the lowest-numbered child. Watches
// drive the subscription hooks.
package zk

import (
	"encoding/json"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metastore"
)

const (
	nodesPath    = "nodes"
	enginesPath  = "engines"
	unitsPath    = "units"
	fragsPath    = "fragments"
	schemasPath  = "schemas"
	usersPath    = "users"
	locksPath    = "locks"
	unitSeqPath  = "unit-id-seq"
	fragLockName = "fragment"
	unitLockName = "storage-unit"
)

type lockHandle struct {
	path string
}

// Store is a ZooKeeper-backed MetaStore.
type Store struct {
	conn      *zk.Conn
	namespace string

	mu         sync.Mutex
	fragLock   *lockHandle
	unitLock   *lockHandle

	onNode     metastore.NodeObserver
	onEngine   metastore.EngineObserver
	onUnit     metastore.UnitObserver
	onFragment metastore.FragmentObserver
	onSchema   metastore.SchemaObserver
	onUser     metastore.UserObserver
}

// Open connects to endpoints and ensures the namespace's base znodes exist.
func Open(endpoints []string, namespace string) (*Store, error) {
	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, cmn.WrapStore("zk.Open", err)
	}
	if namespace == "" {
		namespace = "/metacore"
	}
	s := &Store{conn: conn, namespace: namespace}
	for _, p := range []string{"", nodesPath, enginesPath, unitsPath, fragsPath, schemasPath, usersPath, locksPath, unitSeqPath} {
		if err := s.ensurePath(s.full(p)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) full(parts ...string) string {
	return path.Join(append([]string{s.namespace}, parts...)...)
}

func (s *Store) ensurePath(p string) error {
	if p == "" || p == "/" {
		return nil
	}
	if err := s.ensurePath(path.Dir(p)); err != nil {
		return err
	}
	_, err := s.conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return cmn.WrapStore("zk.ensurePath "+p, err)
	}
	return nil
}

func (s *Store) writeJSON(p string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return cmn.WrapStore("zk.writeJSON", err)
	}
	_, err = s.conn.Create(p, raw, 0, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		_, stat, getErr := s.conn.Get(p)
		if getErr != nil {
			return cmn.WrapStore("zk.writeJSON get", getErr)
		}
		_, err = s.conn.Set(p, raw, stat.Version)
	}
	if err != nil {
		return cmn.WrapStore("zk.writeJSON "+p, err)
	}
	return nil
}

func (s *Store) readAll(dir string, out func(name string, raw []byte) error) error {
	children, _, err := s.conn.Children(s.full(dir))
	if err != nil {
		if err == zk.ErrNoNode {
			return nil
		}
		return cmn.WrapStore("zk.readAll "+dir, err)
	}
	for _, child := range children {
		raw, _, err := s.conn.Get(s.full(dir, child))
		if err != nil {
			continue
		}
		if err := out(child, raw); err != nil {
			return cmn.WrapStore("zk.readAll "+dir, err)
		}
	}
	return nil
}

func (s *Store) RegisterNode(node *meta.FrontEndNode) (int64, error) {
	if node.NodeID == 0 {
		children, _, err := s.conn.Children(s.full(nodesPath))
		if err != nil && err != zk.ErrNoNode {
			return 0, cmn.WrapStore("zk.RegisterNode", err)
		}
		node.NodeID = int64(len(children)) + 1
	}
	if err := s.writeJSON(s.full(nodesPath, strconv.FormatInt(node.NodeID, 10)), node); err != nil {
		return 0, err
	}
	return node.NodeID, nil
}

func (s *Store) LoadNodes() (map[int64]*meta.FrontEndNode, error) {
	out := map[int64]*meta.FrontEndNode{}
	err := s.readAll(nodesPath, func(name string, raw []byte) error {
		var n meta.FrontEndNode
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		out[n.NodeID] = &n
		return nil
	})
	return out, err
}

func (s *Store) OnNodeChange(fn metastore.NodeObserver) {
	s.onNode = fn
	go s.watchChildren(nodesPath, func(name string, raw []byte, removed bool) {
		if fn == nil {
			return
		}
		id, _ := strconv.ParseInt(name, 10, 64)
		if removed {
			fn(id, nil)
			return
		}
		var n meta.FrontEndNode
		if json.Unmarshal(raw, &n) == nil {
			fn(id, &n)
		}
	})
}

func (s *Store) RegisterStorageEngine(engine *meta.StorageEngine) (int64, error) {
	if engine.EngineID == 0 {
		children, _, err := s.conn.Children(s.full(enginesPath))
		if err != nil && err != zk.ErrNoNode {
			return 0, cmn.WrapStore("zk.RegisterStorageEngine", err)
		}
		engine.EngineID = int64(len(children)) + 1
	}
	if err := s.writeJSON(s.full(enginesPath, strconv.FormatInt(engine.EngineID, 10)), engine); err != nil {
		return 0, err
	}
	return engine.EngineID, nil
}

func (s *Store) LoadStorageEngines() (map[int64]*meta.StorageEngine, error) {
	out := map[int64]*meta.StorageEngine{}
	err := s.readAll(enginesPath, func(name string, raw []byte) error {
		var e meta.StorageEngine
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		out[e.EngineID] = &e
		return nil
	})
	return out, err
}

func (s *Store) OnEngineChange(fn metastore.EngineObserver) {
	s.onEngine = fn
	go s.watchChildren(enginesPath, func(name string, raw []byte, removed bool) {
		if fn == nil {
			return
		}
		id, _ := strconv.ParseInt(name, 10, 64)
		if removed {
			fn(id, nil)
			return
		}
		var e meta.StorageEngine
		if json.Unmarshal(raw, &e) == nil {
			fn(id, &e)
		}
	})
}

// AddStorageUnit reserves a fresh cluster-unique id without publishing
// content (spec §4.1), using a ZK sequential node under unitSeqPath purely
// as an atomic counter.
func (s *Store) AddStorageUnit() (string, error) {
	p, err := s.conn.CreateProtectedEphemeralSequential(s.full(unitSeqPath, "id-"), nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", cmn.WrapStore("zk.AddStorageUnit", err)
	}
	base := path.Base(p)
	return base, nil
}

func (s *Store) UpdateStorageUnit(unit *meta.StorageUnit) error {
	if err := s.writeJSON(s.full(unitsPath, unit.UnitID), unit); err != nil {
		return err
	}
	if s.onUnit != nil {
		s.onUnit(unit.UnitID, unit)
	}
	return nil
}

func (s *Store) LoadStorageUnits() (map[string]*meta.StorageUnit, error) {
	out := map[string]*meta.StorageUnit{}
	err := s.readAll(unitsPath, func(name string, raw []byte) error {
		var u meta.StorageUnit
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		out[u.UnitID] = &u
		return nil
	})
	return out, err
}

func (s *Store) OnUnitChange(fn metastore.UnitObserver) {
	s.onUnit = fn
	go s.watchChildren(unitsPath, func(name string, raw []byte, removed bool) {
		if fn == nil {
			return
		}
		if removed {
			fn(name, nil)
			return
		}
		var u meta.StorageUnit
		if json.Unmarshal(raw, &u) == nil {
			fn(name, &u)
		}
	})
}

func (s *Store) AddFragment(key string, fragment *meta.Fragment) error {
	if err := s.writeJSON(s.full(fragsPath, key), fragment); err != nil {
		return err
	}
	if s.onFragment != nil {
		s.onFragment(key, fragment)
	}
	return nil
}

func (s *Store) UpdateFragment(key string, fragment *meta.Fragment) error {
	return s.AddFragment(key, fragment)
}

func (s *Store) LoadFragments() (map[string]*meta.Fragment, error) {
	out := map[string]*meta.Fragment{}
	err := s.readAll(fragsPath, func(name string, raw []byte) error {
		var f meta.Fragment
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		out[name] = &f
		return nil
	})
	return out, err
}

func (s *Store) OnFragmentChange(fn metastore.FragmentObserver) {
	s.onFragment = fn
	go s.watchChildren(fragsPath, func(name string, raw []byte, removed bool) {
		if fn == nil {
			return
		}
		if removed {
			fn(name, nil)
			return
		}
		var f meta.Fragment
		if json.Unmarshal(raw, &f) == nil {
			fn(name, &f)
		}
	})
}

func (s *Store) AddOrUpdateSchemaMapping(name, key string, value int64) error {
	p := s.full(schemasPath, name)
	var sm meta.SchemaMapping
	raw, _, err := s.conn.Get(p)
	if err == nil {
		_ = json.Unmarshal(raw, &sm)
	} else {
		sm = meta.SchemaMapping{Name: name, Items: map[string]int64{}}
	}
	sm.Apply(key, value)
	if err := s.writeJSON(p, &sm); err != nil {
		return err
	}
	if s.onSchema != nil {
		s.onSchema(name, &sm)
	}
	return nil
}

func (s *Store) LoadSchemaMappings() (map[string]*meta.SchemaMapping, error) {
	out := map[string]*meta.SchemaMapping{}
	err := s.readAll(schemasPath, func(name string, raw []byte) error {
		var sm meta.SchemaMapping
		if err := json.Unmarshal(raw, &sm); err != nil {
			return err
		}
		out[sm.Name] = &sm
		return nil
	})
	return out, err
}

func (s *Store) OnSchemaChange(fn metastore.SchemaObserver) {
	s.onSchema = fn
	go s.watchChildren(schemasPath, func(name string, raw []byte, removed bool) {
		if fn == nil || removed {
			return
		}
		var sm meta.SchemaMapping
		if json.Unmarshal(raw, &sm) == nil {
			fn(name, &sm)
		}
	})
}

func (s *Store) RegisterUser(user *meta.User) error {
	if err := s.writeJSON(s.full(usersPath, user.Username), user); err != nil {
		return err
	}
	if s.onUser != nil {
		s.onUser(user.Username, user)
	}
	return nil
}

func (s *Store) UpdateUser(user *meta.User) error { return s.RegisterUser(user) }

func (s *Store) RemoveUser(username string) error {
	err := s.conn.Delete(s.full(usersPath, username), -1)
	if err != nil && err != zk.ErrNoNode {
		return cmn.WrapStore("zk.RemoveUser", err)
	}
	if s.onUser != nil {
		s.onUser(username, nil)
	}
	return nil
}

func (s *Store) LoadUsers() (map[string]*meta.User, error) {
	out := map[string]*meta.User{}
	err := s.readAll(usersPath, func(name string, raw []byte) error {
		var u meta.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		out[u.Username] = &u
		return nil
	})
	return out, err
}

func (s *Store) OnUserChange(fn metastore.UserObserver) {
	s.onUser = fn
	go s.watchChildren(usersPath, func(name string, raw []byte, removed bool) {
		if fn == nil {
			return
		}
		if removed {
			fn(name, nil)
			return
		}
		var u meta.User
		if json.Unmarshal(raw, &u) == nil {
			fn(name, &u)
		}
	})
}

// watchChildren polls one zk.ChildrenW watch cycle at a time, diffing the
// child set and re-reading changed children; it runs until the watch
// channel closes (session loss), matching the "observers may be invoked
// from any thread" contract (spec §4.1).
func (s *Store) watchChildren(dir string, emit func(name string, raw []byte, removed bool)) {
	known := map[string][]byte{}
	for {
		children, _, events, err := s.conn.ChildrenW(s.full(dir))
		if err != nil {
			return
		}
		current := map[string]bool{}
		for _, c := range children {
			current[c] = true
			raw, _, err := s.conn.Get(s.full(dir, c))
			if err != nil {
				continue
			}
			if prev, ok := known[c]; !ok || string(prev) != string(raw) {
				known[c] = raw
				emit(c, raw, false)
			}
		}
		for name := range known {
			if !current[name] {
				delete(known, name)
				emit(name, nil, true)
			}
		}
		ev, ok := <-events
		if !ok || ev.Err != nil {
			return
		}
	}
}

// LockFragment / LockStorageUnit implement the classic ZK lock recipe:
// create an ephemeral sequential child, then wait until it is the
// lowest-numbered child of the lock directory.
func (s *Store) LockFragment() error {
	h, err := s.acquire(fragLockName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.fragLock = h
	s.mu.Unlock()
	return nil
}

func (s *Store) ReleaseFragment() error {
	s.mu.Lock()
	h := s.fragLock
	s.fragLock = nil
	s.mu.Unlock()
	return s.release(h)
}

func (s *Store) LockStorageUnit() error {
	h, err := s.acquire(unitLockName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.unitLock = h
	s.mu.Unlock()
	return nil
}

func (s *Store) ReleaseStorageUnit() error {
	s.mu.Lock()
	h := s.unitLock
	s.unitLock = nil
	s.mu.Unlock()
	return s.release(h)
}

func (s *Store) acquire(name string) (*lockHandle, error) {
	dir := s.full(locksPath, name)
	if err := s.ensurePath(dir); err != nil {
		return nil, err
	}
	myPath, err := s.conn.CreateProtectedEphemeralSequential(path.Join(dir, "lock-"), nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, cmn.WrapStore("zk.acquire "+name, err)
	}
	myBase := path.Base(myPath)
	// protected names carry a GUID prefix; order by the 10-digit sequence suffix.
	seq := func(name string) string {
		if len(name) < 10 {
			return name
		}
		return name[len(name)-10:]
	}
	for {
		children, _, err := s.conn.Children(dir)
		if err != nil {
			return nil, cmn.WrapStore("zk.acquire "+name, err)
		}
		sort.Slice(children, func(i, j int) bool { return seq(children[i]) < seq(children[j]) })
		if len(children) > 0 && children[0] == myBase {
			return &lockHandle{path: myPath}, nil
		}
		// watch the next-lowest sibling so we wake exactly when we're
		// eligible, rather than polling the whole directory.
		predecessor := ""
		for _, c := range children {
			if c == myBase {
				break
			}
			predecessor = c
		}
		if predecessor == "" {
			continue
		}
		exists, _, events, err := s.conn.ExistsW(path.Join(dir, predecessor))
		if err != nil {
			continue
		}
		if !exists {
			continue
		}
		<-events
	}
}

func (s *Store) release(h *lockHandle) error {
	if h == nil {
		return nil
	}
	err := s.conn.Delete(h.path, -1)
	if err != nil && err != zk.ErrNoNode {
		return cmn.WrapStore("zk.release", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

var _ metastore.MetaStore = (*Store)(nil)
