// Package metric implements the XOR distance metric over NodeID space
// and the neighborhood-selection helper the search engine relies on to
// trim each round's work queue.
package metric

import (
	"math/big"
	"sort"

	"github.com/opendht/dhtcore/pkg/wire"
)

// D computes the XOR distance between two NodeIDs, interpreted as an
// unsigned 256-bit integer. It is reflexive (D(x,x)==0), symmetric
// (D(x,y)==D(y,x)), and obeys the triangle inequality.
func D(a, b wire.NodeID) *big.Int {
	var xored [32]byte
	for i := range a {
		xored[i] = a[i] ^ b[i]
	}
	return new(big.Int).SetBytes(xored[:])
}

// Less reports whether the XOR distance from a to target is strictly
// smaller than the XOR distance from b to target.
func Less(a, b, target wire.NodeID) bool {
	return D(a, target).Cmp(D(b, target)) < 0
}

// Neighborhood returns up to k peers from peers, sorted by ascending XOR
// distance to target. When peers is non-empty, the returned slice's first
// element is the minimum-distance peer: callers rely on this for the
// search engine's convergence predicate without needing to recompute
// distances.
func Neighborhood(target wire.NodeID, peers []wire.Peer, k int) []wire.Peer {
	if len(peers) == 0 {
		return nil
	}

	sorted := make([]wire.Peer, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool {
		return D(sorted[i].ID, target).Cmp(D(sorted[j].ID, target)) < 0
	})

	if k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}

// MinDistance returns the smallest XOR distance to target across peers,
// or nil if peers is empty (the +∞ sentinel of the search engine's
// convergence predicate).
func MinDistance(target wire.NodeID, peers []wire.Peer) *big.Int {
	if len(peers) == 0 {
		return nil
	}
	min := D(peers[0].ID, target)
	for _, p := range peers[1:] {
		if d := D(p.ID, target); d.Cmp(min) < 0 {
			min = d
		}
	}
	return min
}

// CloserThan reports whether a is a smaller distance than b, treating a
// nil argument as +∞. This is the min_work < min_alive comparison that
// drives the search's retry-reset decision.
func CloserThan(a, b *big.Int) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Cmp(b) < 0
}
