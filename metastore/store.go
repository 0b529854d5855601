// Package metastore defines the backend-agnostic MetaStore interface
// (spec §4.1, §6) and its three concrete backends: zookeeper, etcd, and a
// single-process file fallback.
package metastore

import "github.com/chronosdb/metacore/meta"

// NodeObserver is invoked on every remote FrontEndNode change; node == nil
// means removal.
type NodeObserver func(id int64, node *meta.FrontEndNode)

// EngineObserver is invoked on every remote StorageEngine change.
type EngineObserver func(id int64, engine *meta.StorageEngine)

// UnitObserver is invoked on every remote StorageUnit change.
type UnitObserver func(id string, unit *meta.StorageUnit)

// FragmentObserver is invoked on every remote Fragment change. Fragments
// have no identity of their own in the wire model; the backend passes the
// key it stored the fragment under alongside the value.
type FragmentObserver func(key string, fragment *meta.Fragment)

// SchemaObserver is invoked on every remote SchemaMapping change.
type SchemaObserver func(name string, mapping *meta.SchemaMapping)

// UserObserver is invoked on every remote User change.
type UserObserver func(username string, user *meta.User)

// MetaStore is the durable, backend-agnostic namespace for cluster
// metadata (spec §4.1). Every method either succeeds or returns an
// *cmn.Error of kind MetaStoreFailure.
type MetaStore interface {
	// Nodes
	RegisterNode(node *meta.FrontEndNode) (int64, error)
	LoadNodes() (map[int64]*meta.FrontEndNode, error)
	OnNodeChange(fn NodeObserver)

	// Storage engines
	RegisterStorageEngine(engine *meta.StorageEngine) (int64, error)
	LoadStorageEngines() (map[int64]*meta.StorageEngine, error)
	OnEngineChange(fn EngineObserver)

	// Storage units
	AddStorageUnit() (string, error) // reserves a fresh id without publishing content
	UpdateStorageUnit(unit *meta.StorageUnit) error
	LoadStorageUnits() (map[string]*meta.StorageUnit, error)
	OnUnitChange(fn UnitObserver)

	// Fragments
	AddFragment(key string, fragment *meta.Fragment) error
	UpdateFragment(key string, fragment *meta.Fragment) error
	LoadFragments() (map[string]*meta.Fragment, error)
	OnFragmentChange(fn FragmentObserver)

	// Schema mappings
	AddOrUpdateSchemaMapping(name, key string, value int64) error
	LoadSchemaMappings() (map[string]*meta.SchemaMapping, error)
	OnSchemaChange(fn SchemaObserver)

	// Users
	RegisterUser(user *meta.User) error
	UpdateUser(user *meta.User) error
	RemoveUser(username string) error
	LoadUsers() (map[string]*meta.User, error)
	OnUserChange(fn UserObserver)

	// Advisory locks (spec §5: canonical order fragment-before-storageUnit)
	LockFragment() error
	ReleaseFragment() error
	LockStorageUnit() error
	ReleaseStorageUnit() error

	Close() error
}
