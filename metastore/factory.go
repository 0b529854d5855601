package metastore

import (
	"github.com/chronosdb/metacore/cmn"
	"github.com/chronosdb/metacore/metastore/etcd"
	"github.com/chronosdb/metacore/metastore/file"
	"github.com/chronosdb/metacore/metastore/zk"
)

// Open selects a backend by cfg.MetaStorage; empty or unrecognized values
// resolve to the file backend (spec §6).
func Open(cfg *cmn.Config) (MetaStore, error) {
	switch cfg.MetaStorage {
	case "zookeeper":
		return zk.Open(cfg.ZooKeeper.Endpoints, cfg.ZooKeeper.Namespace)
	case "etcd":
		return etcd.Open(cfg.Etcd.Endpoints, cfg.Etcd.Namespace)
	case "file", "":
		return file.Open(cfg.File.Path)
	default:
		return file.Open(cfg.File.Path)
	}
}
