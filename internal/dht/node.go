// Package dht implements the routing-table collaborator the search engine
// consumes: a local node ID and a closest-peers lookup. Something has to
// hold peers for the search engine to query, so this package carries a
// straightforward Kademlia k-bucket table.
package dht

import (
	"fmt"
	"time"

	"github.com/opendht/dhtcore/pkg/wire"
)

// Node is a routing-table entry: a peer plus local bookkeeping about how
// recently it was heard from.
type Node struct {
	Peer     wire.Peer
	LastSeen time.Time
}

// NewNode creates a routing-table entry for the given peer, freshly seen.
func NewNode(peer wire.Peer) *Node {
	return &Node{Peer: peer, LastSeen: time.Now()}
}

// ID returns the node's NodeID.
func (n *Node) ID() wire.NodeID {
	return n.Peer.ID
}

// IsStale returns true if the node hasn't been seen recently.
func (n *Node) IsStale(timeout time.Duration) bool {
	return time.Since(n.LastSeen) > timeout
}

// UpdateLastSeen marks the node as seen now.
func (n *Node) UpdateLastSeen() {
	n.LastSeen = time.Now()
}

// Copy returns a shallow copy of the node safe to hand to a caller.
func (n *Node) Copy() *Node {
	return &Node{Peer: n.Peer, LastSeen: n.LastSeen}
}

// String returns a short human-readable description of the node.
func (n *Node) String() string {
	return fmt.Sprintf("Node{ID: %s..., IP: %v, Port: %d}", n.Peer.ID.String()[:16], n.Peer.IP, n.Peer.Port)
}
