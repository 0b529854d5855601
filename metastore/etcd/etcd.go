// Package etcd implements metastore.MetaStore against an etcd cluster
// using go.etcd.io/etcd/client/v3. Locks use concurrency.Session +
// concurrency.Mutex; subscriptions use the client's Watch API.
package etcd

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metastore"
)

const (
	nodesPath   = "nodes"
	enginesPath = "engines"
	unitsPath   = "units"
	fragsPath   = "fragments"
	schemasPath = "schemas"
	usersPath   = "users"

	fragLockKey = "locks/fragment"
	unitLockKey = "locks/storage-unit"
)

// Store is an etcd-backed MetaStore.
type Store struct {
	cli       *clientv3.Client
	namespace string

	mu       sync.Mutex
	session  *concurrency.Session
	fragMu   *concurrency.Mutex
	unitMu   *concurrency.Mutex

	ctx context.Context
}

// Open dials endpoints and prepares a concurrency.Session for locking.
func Open(endpoints []string, namespace string) (*Store, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: 5 * time.Second})
	if err != nil {
		return nil, cmn.WrapStore("etcd.Open", err)
	}
	if namespace == "" {
		namespace = "/metacore"
	}
	sess, err := concurrency.NewSession(cli)
	if err != nil {
		return nil, cmn.WrapStore("etcd.Open", err)
	}
	return &Store{cli: cli, namespace: namespace, session: sess, ctx: context.Background()}, nil
}

func (s *Store) key(parts ...string) string {
	return path.Join(append([]string{s.namespace}, parts...)...)
}

func (s *Store) put(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return cmn.WrapStore("etcd.put", err)
	}
	_, err = s.cli.Put(s.ctx, key, string(raw))
	if err != nil {
		return cmn.WrapStore("etcd.put "+key, err)
	}
	return nil
}

func (s *Store) loadPrefix(prefix string, out func(key string, raw []byte) error) error {
	resp, err := s.cli.Get(s.ctx, s.key(prefix)+"/", clientv3.WithPrefix())
	if err != nil {
		return cmn.WrapStore("etcd.loadPrefix "+prefix, err)
	}
	for _, kv := range resp.Kvs {
		name := path.Base(string(kv.Key))
		if err := out(name, kv.Value); err != nil {
			return cmn.WrapStore("etcd.loadPrefix "+prefix, err)
		}
	}
	return nil
}

func (s *Store) watchPrefix(prefix string, emit func(name string, raw []byte, removed bool)) {
	wch := s.cli.Watch(s.ctx, s.key(prefix)+"/", clientv3.WithPrefix())
	for resp := range wch {
		for _, ev := range resp.Events {
			name := path.Base(string(ev.Kv.Key))
			if ev.Type == clientv3.EventTypeDelete {
				emit(name, nil, true)
			} else {
				emit(name, ev.Kv.Value, false)
			}
		}
	}
}

func (s *Store) RegisterNode(node *meta.FrontEndNode) (int64, error) {
	if node.NodeID == 0 {
		resp, err := s.cli.Get(s.ctx, s.key(nodesPath)+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
		if err != nil {
			return 0, cmn.WrapStore("etcd.RegisterNode", err)
		}
		node.NodeID = resp.Count + 1
	}
	if err := s.put(s.key(nodesPath, strconv.FormatInt(node.NodeID, 10)), node); err != nil {
		return 0, err
	}
	return node.NodeID, nil
}

func (s *Store) LoadNodes() (map[int64]*meta.FrontEndNode, error) {
	out := map[int64]*meta.FrontEndNode{}
	err := s.loadPrefix(nodesPath, func(_ string, raw []byte) error {
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
	go s.watchPrefix(nodesPath, func(name string, raw []byte, removed bool) {
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
		resp, err := s.cli.Get(s.ctx, s.key(enginesPath)+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
		if err != nil {
			return 0, cmn.WrapStore("etcd.RegisterStorageEngine", err)
		}
		engine.EngineID = resp.Count + 1
	}
	if err := s.put(s.key(enginesPath, strconv.FormatInt(engine.EngineID, 10)), engine); err != nil {
		return 0, err
	}
	return engine.EngineID, nil
}

func (s *Store) LoadStorageEngines() (map[int64]*meta.StorageEngine, error) {
	out := map[int64]*meta.StorageEngine{}
	err := s.loadPrefix(enginesPath, func(_ string, raw []byte) error {
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
	go s.watchPrefix(enginesPath, func(name string, raw []byte, removed bool) {
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

// AddStorageUnit reserves a fresh cluster-unique id via etcd's revision
// counter (Put then read back ModRevision), without publishing content.
func (s *Store) AddStorageUnit() (string, error) {
	resp, err := s.cli.Put(s.ctx, s.key("unit-id-seq"), "", clientv3.WithPrevKV())
	if err != nil {
		return "", cmn.WrapStore("etcd.AddStorageUnit", err)
	}
	return "su-" + strconv.FormatInt(resp.Header.Revision, 10), nil
}

func (s *Store) UpdateStorageUnit(unit *meta.StorageUnit) error {
	return s.put(s.key(unitsPath, unit.UnitID), unit)
}

func (s *Store) LoadStorageUnits() (map[string]*meta.StorageUnit, error) {
	out := map[string]*meta.StorageUnit{}
	err := s.loadPrefix(unitsPath, func(name string, raw []byte) error {
		var u meta.StorageUnit
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		out[name] = &u
		return nil
	})
	return out, err
}

func (s *Store) OnUnitChange(fn metastore.UnitObserver) {
	go s.watchPrefix(unitsPath, func(name string, raw []byte, removed bool) {
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
	return s.put(s.key(fragsPath, key), fragment)
}

func (s *Store) UpdateFragment(key string, fragment *meta.Fragment) error {
	return s.AddFragment(key, fragment)
}

func (s *Store) LoadFragments() (map[string]*meta.Fragment, error) {
	out := map[string]*meta.Fragment{}
	err := s.loadPrefix(fragsPath, func(name string, raw []byte) error {
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
	go s.watchPrefix(fragsPath, func(name string, raw []byte, removed bool) {
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
	k := s.key(schemasPath, name)
	var sm meta.SchemaMapping
	resp, err := s.cli.Get(s.ctx, k)
	if err != nil {
		return cmn.WrapStore("etcd.AddOrUpdateSchemaMapping", err)
	}
	if len(resp.Kvs) > 0 {
		_ = json.Unmarshal(resp.Kvs[0].Value, &sm)
	} else {
		sm = meta.SchemaMapping{Name: name, Items: map[string]int64{}}
	}
	sm.Apply(key, value)
	return s.put(k, &sm)
}

func (s *Store) LoadSchemaMappings() (map[string]*meta.SchemaMapping, error) {
	out := map[string]*meta.SchemaMapping{}
	err := s.loadPrefix(schemasPath, func(_ string, raw []byte) error {
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
	go s.watchPrefix(schemasPath, func(name string, raw []byte, removed bool) {
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
	return s.put(s.key(usersPath, user.Username), user)
}

func (s *Store) UpdateUser(user *meta.User) error { return s.RegisterUser(user) }

func (s *Store) RemoveUser(username string) error {
	_, err := s.cli.Delete(s.ctx, s.key(usersPath, username))
	if err != nil {
		return cmn.WrapStore("etcd.RemoveUser", err)
	}
	return nil
}

func (s *Store) LoadUsers() (map[string]*meta.User, error) {
	out := map[string]*meta.User{}
	err := s.loadPrefix(usersPath, func(name string, raw []byte) error {
		var u meta.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		out[name] = &u
		return nil
	})
	return out, err
}

func (s *Store) OnUserChange(fn metastore.UserObserver) {
	go s.watchPrefix(usersPath, func(name string, raw []byte, removed bool) {
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

func (s *Store) LockFragment() error {
	m := concurrency.NewMutex(s.session, s.key(fragLockKey))
	if err := m.Lock(s.ctx); err != nil {
		return cmn.WrapStore("etcd.LockFragment", err)
	}
	s.mu.Lock()
	s.fragMu = m
	s.mu.Unlock()
	return nil
}

func (s *Store) ReleaseFragment() error {
	s.mu.Lock()
	m := s.fragMu
	s.fragMu = nil
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	if err := m.Unlock(s.ctx); err != nil {
		return cmn.WrapStore("etcd.ReleaseFragment", err)
	}
	return nil
}

func (s *Store) LockStorageUnit() error {
	m := concurrency.NewMutex(s.session, s.key(unitLockKey))
	if err := m.Lock(s.ctx); err != nil {
		return cmn.WrapStore("etcd.LockStorageUnit", err)
	}
	s.mu.Lock()
	s.unitMu = m
	s.mu.Unlock()
	return nil
}

func (s *Store) ReleaseStorageUnit() error {
	s.mu.Lock()
	m := s.unitMu
	s.unitMu = nil
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	if err := m.Unlock(s.ctx); err != nil {
		return cmn.WrapStore("etcd.ReleaseStorageUnit", err)
	}
	return nil
}

func (s *Store) Close() error {
	_ = s.session.Close()
	return s.cli.Close()
}

var _ metastore.MetaStore = (*Store)(nil)
