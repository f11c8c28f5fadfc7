// Package dht implements the Kademlia routing table.
package dht

import (
	"sync"
	"time"

	"github.com/opendht/dhtcore/pkg/constants"
	"github.com/opendht/dhtcore/pkg/metric"
	"github.com/opendht/dhtcore/pkg/wire"
)

// kbucket holds the peers a routing table has learned whose XOR
// distance to the local ID puts them at one shared-prefix length, plus
// a bounded replacement list for contacts that show up once the bucket
// is already at constants.DHTBucketSize. A full bucket's replacement
// list backfills it as existing entries are removed, so a handful of
// extra contacts aren't thrown away just because they arrived late.
type kbucket struct {
	mu    sync.RWMutex
	nodes []*Node

	replacements []*Node
}

func newKBucket() *kbucket {
	return &kbucket{
		nodes:        make([]*Node, 0, constants.DHTBucketSize),
		replacements: make([]*Node, 0, constants.DHTBucketSize),
	}
}

// add reports whether node landed in the bucket proper; false means it
// was pushed onto the replacement list instead because the bucket was
// already full.
func (b *kbucket) add(node *Node) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.nodes {
		if existing.ID() == node.ID() {
			b.nodes[i] = node
			return true
		}
	}

	if len(b.nodes) < constants.DHTBucketSize {
		b.nodes = append(b.nodes, node)
		return true
	}

	b.addToReplacements(node)
	return false
}

// remove deletes id from the bucket or, failing that, its replacement
// list. Removing a bucket member promotes the newest replacement into
// the freed slot.
func (b *kbucket) remove(id wire.NodeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, node := range b.nodes {
		if node.ID() == id {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.promoteFromReplacements()
			return true
		}
	}

	for i, node := range b.replacements {
		if node.ID() == id {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			return true
		}
	}

	return false
}

// all returns a defensive copy of every node currently in the bucket.
func (b *kbucket) all() []*Node {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Node, len(b.nodes))
	for i, node := range b.nodes {
		out[i] = node.Copy()
	}
	return out
}

func (b *kbucket) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}

// removeStale evicts nodes not seen within timeout, backfilling each
// freed slot from the replacement list where possible.
func (b *kbucket) removeStale(timeout time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	i := 0
	for i < len(b.nodes) {
		if b.nodes[i].IsStale(timeout) {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			removed++
		} else {
			i++
		}
	}

	for removed > 0 && b.promoteFromReplacements() {
		removed--
	}

	return removed
}

func (b *kbucket) addToReplacements(node *Node) {
	for i, existing := range b.replacements {
		if existing.ID() == node.ID() {
			b.replacements[i] = node
			return
		}
	}

	if len(b.replacements) < constants.DHTBucketSize {
		b.replacements = append(b.replacements, node)
		return
	}
	copy(b.replacements, b.replacements[1:])
	b.replacements[len(b.replacements)-1] = node
}

// promoteFromReplacements moves the most recently seen replacement
// into the bucket, if there's room and a replacement to take.
func (b *kbucket) promoteFromReplacements() bool {
	if len(b.replacements) == 0 || len(b.nodes) >= constants.DHTBucketSize {
		return false
	}
	node := b.replacements[len(b.replacements)-1]
	b.replacements = b.replacements[:len(b.replacements)-1]
	b.nodes = append(b.nodes, node)
	return true
}

// RoutingTable implements a Kademlia routing table with 256 buckets, one
// per possible length of the shared prefix with the local ID.
type RoutingTable struct {
	mu      sync.RWMutex
	localID wire.NodeID
	buckets [256]*kbucket
}

// NewRoutingTable creates a new routing table for the given local node ID.
func NewRoutingTable(localID wire.NodeID) *RoutingTable {
	rt := &RoutingTable{localID: localID}
	for i := range rt.buckets {
		rt.buckets[i] = newKBucket()
	}
	return rt
}

// NodeID returns the local node's identifier (the node_id() collaborator
// operation search consumes).
func (rt *RoutingTable) NodeID() wire.NodeID {
	return rt.localID
}

// Add adds a node to the appropriate bucket in the routing table.
func (rt *RoutingTable) Add(node *Node) bool {
	if node.ID() == rt.localID {
		return false
	}
	return rt.buckets[rt.getBucketIndex(node.ID())].add(node)
}

// Remove removes a node from the routing table.
func (rt *RoutingTable) Remove(id wire.NodeID) bool {
	if id == rt.localID {
		return false
	}
	return rt.buckets[rt.getBucketIndex(id)].remove(id)
}

// ClosestTo returns up to k known peers sorted by ascending XOR distance
// to target (the closest_to(target, k) collaborator operation search
// consumes).
func (rt *RoutingTable) ClosestTo(target wire.NodeID, k int) []wire.Peer {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var candidates []*Node
	targetBucket := rt.getBucketIndex(target)

	collected := make(map[int]bool)
	candidates = append(candidates, rt.buckets[targetBucket].all()...)
	collected[targetBucket] = true

	for distance := 1; distance < 256; distance++ {
		if targetBucket+distance < 256 && !collected[targetBucket+distance] {
			candidates = append(candidates, rt.buckets[targetBucket+distance].all()...)
			collected[targetBucket+distance] = true
		}
		if targetBucket-distance >= 0 && !collected[targetBucket-distance] {
			candidates = append(candidates, rt.buckets[targetBucket-distance].all()...)
			collected[targetBucket-distance] = true
		}
	}

	if len(candidates) < k {
		for i := range rt.buckets {
			if !collected[i] {
				candidates = append(candidates, rt.buckets[i].all()...)
			}
		}
	}

	peers := make([]wire.Peer, len(candidates))
	for i, n := range candidates {
		peers[i] = n.Peer
	}
	return metric.Neighborhood(target, peers, k)
}

// Size returns the total number of nodes in the routing table.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	total := 0
	for _, bucket := range rt.buckets {
		total += bucket.size()
	}
	return total
}

// RemoveStale removes stale nodes from all buckets.
func (rt *RoutingTable) RemoveStale(timeout time.Duration) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	total := 0
	for _, bucket := range rt.buckets {
		total += bucket.removeStale(timeout)
	}
	return total
}

// getBucketIndex calculates which bucket a node ID should go into: the
// index of the highest set bit in the XOR distance from the local ID.
func (rt *RoutingTable) getBucketIndex(id wire.NodeID) int {
	var distance [32]byte
	for i := range distance {
		distance[i] = rt.localID[i] ^ id[i]
	}

	for i := 0; i < 32; i++ {
		if distance[i] != 0 {
			for j := 7; j >= 0; j-- {
				if (distance[i]>>j)&1 == 1 {
					return 255 - (i*8 + (7 - j))
				}
			}
		}
	}
	return 0
}
