// Package meta defines the cluster metadata domain model (spec §3):
// FrontEndNode, StorageEngine, StorageUnit, Fragment, SchemaMapping, and
// User, plus the interval types the splitter and cache index by.
//
// Grounded on the teacher's cluster/map.go Snode/NodeMap idiom (Digest,
// Clone, Equals, copy-on-read maps), generalized from aistore's two-role
// (proxy/target) node model to this spec's six entity kinds.
package meta

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// FrontEndNode is a participating front-end process (spec §3).
type FrontEndNode struct {
	NodeID  int64  `json:"node_id"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	digest  uint64
}

func (n *FrontEndNode) Address() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

// Digest is a stable hash of the node id, mirroring the teacher's
// Snode.Digest() use of xxhash for cheap node-id hashing/sharding.
func (n *FrontEndNode) Digest() uint64 {
	if n.digest == 0 {
		n.digest = xxhash.ChecksumString64S(fmt.Sprintf("%d", n.NodeID), 0)
	}
	return n.digest
}

func (n *FrontEndNode) Clone() *FrontEndNode {
	if n == nil {
		return nil
	}
	cp := *n
	return &cp
}

func (n *FrontEndNode) Equals(o *FrontEndNode) bool {
	if n == nil || o == nil {
		return n == o
	}
	return n.NodeID == o.NodeID && n.Host == o.Host && n.Port == o.Port
}

// NodeMap is a copy-on-read map of FrontEndNodes, keyed by node id.
type NodeMap map[int64]*FrontEndNode

func (m NodeMap) Clone() NodeMap {
	cp := make(NodeMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
