// Package file implements metastore.MetaStore as a single-process,
// in-memory store persisted to a local JSON file. It does not support
// multi-node coordination: locks are no-ops within the process (spec §6).
//
// The atomic-write discipline (write to a sibling ".tmp" file, then
// rename over the destination) is grounded on the teacher's
// cmn/jsp/file.go Save(), generalized from aistore's single-meta-object
// save to this store's whole-snapshot save.
package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/teris-io/shortid"

	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/meta"
	"github.com/chronosdb/metacore/metastore"
)

var json_ = jsoniter.ConfigCompatibleWithStandardLibrary

type snapshot struct {
	Nodes    map[int64]*meta.FrontEndNode     `json:"nodes"`
	Engines  map[int64]*meta.StorageEngine     `json:"engines"`
	Units    map[string]*meta.StorageUnit      `json:"units"`
	Fragments map[string]*meta.Fragment        `json:"fragments"`
	Schemas  map[string]*meta.SchemaMapping    `json:"schemas"`
	Users    map[string]*meta.User             `json:"users"`
	NextUnit int64                             `json:"next_unit"`
}

// Store is the file-backed MetaStore. One process, no peers: useful for
// the single-node bootstrap scenario (spec §8 scenario 1) and local tests.
type Store struct {
	mu   sync.Mutex
	path string
	snap snapshot

	sid *shortid.Shortid

	onNode     metastore.NodeObserver
	onEngine   metastore.EngineObserver
	onUnit     metastore.UnitObserver
	onFragment metastore.FragmentObserver
	onSchema   metastore.SchemaObserver
	onUser     metastore.UserObserver
}

// Open loads path if it exists, or starts from an empty snapshot.
func Open(path string) (*Store, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path: path,
		sid:  sid,
		snap: snapshot{
			Nodes: map[int64]*meta.FrontEndNode{}, Engines: map[int64]*meta.StorageEngine{},
			Units: map[string]*meta.StorageUnit{}, Fragments: map[string]*meta.Fragment{},
			Schemas: map[string]*meta.SchemaMapping{}, Users: map[string]*meta.User{},
		},
	}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, cmn.WrapStore("file.Open", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json_.Unmarshal(raw, &s.snap); err != nil {
		return nil, cmn.WrapStore("file.Open", err)
	}
	return s, nil
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return cmn.WrapStore("file.persist", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return cmn.WrapStore("file.persist", err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return cmn.WrapStore("file.persist", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return cmn.WrapStore("file.persist", errors.Wrap(err, "rename"))
	}
	return nil
}

func (s *Store) RegisterNode(node *meta.FrontEndNode) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node.NodeID == 0 {
		node.NodeID = int64(len(s.snap.Nodes)) + 1
	}
	s.snap.Nodes[node.NodeID] = node.Clone()
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return node.NodeID, nil
}

func (s *Store) LoadNodes() (map[int64]*meta.FrontEndNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*meta.FrontEndNode, len(s.snap.Nodes))
	for k, v := range s.snap.Nodes {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnNodeChange(fn metastore.NodeObserver) { s.onNode = fn }

func (s *Store) RegisterStorageEngine(engine *meta.StorageEngine) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine.EngineID == 0 {
		engine.EngineID = int64(len(s.snap.Engines)) + 1
	}
	s.snap.Engines[engine.EngineID] = engine.Clone()
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return engine.EngineID, nil
}

func (s *Store) LoadStorageEngines() (map[int64]*meta.StorageEngine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*meta.StorageEngine, len(s.snap.Engines))
	for k, v := range s.snap.Engines {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnEngineChange(fn metastore.EngineObserver) { s.onEngine = fn }

func (s *Store) AddStorageUnit() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.sid.MustGenerate()
	s.snap.NextUnit++
	if err := s.persistLocked(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) UpdateStorageUnit(unit *meta.StorageUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Units[unit.UnitID] = unit.Clone()
	if err := s.persistLocked(); err != nil {
		return err
	}
	if s.onUnit != nil {
		s.onUnit(unit.UnitID, unit.Clone())
	}
	return nil
}

func (s *Store) LoadStorageUnits() (map[string]*meta.StorageUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*meta.StorageUnit, len(s.snap.Units))
	for k, v := range s.snap.Units {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnUnitChange(fn metastore.UnitObserver) { s.onUnit = fn }

func (s *Store) AddFragment(key string, fragment *meta.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Fragments[key] = fragment.Clone()
	if err := s.persistLocked(); err != nil {
		return err
	}
	if s.onFragment != nil {
		s.onFragment(key, fragment.Clone())
	}
	return nil
}

func (s *Store) UpdateFragment(key string, fragment *meta.Fragment) error {
	return s.AddFragment(key, fragment)
}

func (s *Store) LoadFragments() (map[string]*meta.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*meta.Fragment, len(s.snap.Fragments))
	for k, v := range s.snap.Fragments {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnFragmentChange(fn metastore.FragmentObserver) { s.onFragment = fn }

func (s *Store) AddOrUpdateSchemaMapping(name, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.snap.Schemas[name]
	if !ok {
		sm = &meta.SchemaMapping{Name: name, Items: map[string]int64{}}
		s.snap.Schemas[name] = sm
	}
	sm.Apply(key, value)
	if err := s.persistLocked(); err != nil {
		return err
	}
	if s.onSchema != nil {
		s.onSchema(name, sm.Clone())
	}
	return nil
}

func (s *Store) LoadSchemaMappings() (map[string]*meta.SchemaMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*meta.SchemaMapping, len(s.snap.Schemas))
	for k, v := range s.snap.Schemas {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnSchemaChange(fn metastore.SchemaObserver) { s.onSchema = fn }

func (s *Store) RegisterUser(user *meta.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Users[user.Username] = user.Clone()
	if err := s.persistLocked(); err != nil {
		return err
	}
	if s.onUser != nil {
		s.onUser(user.Username, user.Clone())
	}
	return nil
}

func (s *Store) UpdateUser(user *meta.User) error { return s.RegisterUser(user) }

func (s *Store) RemoveUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snap.Users, username)
	if err := s.persistLocked(); err != nil {
		return err
	}
	if s.onUser != nil {
		s.onUser(username, nil)
	}
	return nil
}

func (s *Store) LoadUsers() (map[string]*meta.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*meta.User, len(s.snap.Users))
	for k, v := range s.snap.Users {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnUserChange(fn metastore.UserObserver) { s.onUser = fn }

// Locks are no-ops: the file backend is single-process only (spec §6).
func (s *Store) LockFragment() error      { return nil }
func (s *Store) ReleaseFragment() error   { return nil }
func (s *Store) LockStorageUnit() error   { return nil }
func (s *Store) ReleaseStorageUnit() error { return nil }

func (s *Store) Close() error { return nil }

var _ metastore.MetaStore = (*Store)(nil)
