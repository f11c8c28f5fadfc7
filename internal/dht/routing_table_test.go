package dht

import (
	"testing"
	"time"

	"github.com/opendht/dhtcore/pkg/constants"
	"github.com/opendht/dhtcore/pkg/wire"
)

func TestRoutingTableAddRejectsSelf(t *testing.T) {
	var local wire.NodeID
	local[0] = 0xAA
	rt := NewRoutingTable(local)

	if rt.Add(NewNode(wire.Peer{ID: local})) {
		t.Fatal("adding the local node to its own table should report false")
	}
	if rt.Size() != 0 {
		t.Fatalf("size = %d, want 0", rt.Size())
	}
}

func TestRoutingTableAddAndSize(t *testing.T) {
	var local wire.NodeID
	rt := NewRoutingTable(local)

	for i := byte(1); i <= 10; i++ {
		var id wire.NodeID
		id[31] = i
		rt.Add(NewNode(wire.Peer{ID: id, IP: []byte{127, 0, 0, 1}, Port: wire.Port(1000 + int(i))}))
	}

	if rt.Size() != 10 {
		t.Fatalf("size = %d, want 10", rt.Size())
	}
}

func TestRoutingTableClosestToOrdering(t *testing.T) {
	var local wire.NodeID
	rt := NewRoutingTable(local)

	var ids []wire.NodeID
	for i := byte(1); i <= 20; i++ {
		var id wire.NodeID
		id[31] = i
		ids = append(ids, id)
		rt.Add(NewNode(wire.Peer{ID: id, IP: []byte{127, 0, 0, 1}, Port: wire.Port(2000 + int(i))}))
	}

	target := ids[4] // id with id[31] == 5
	closest := rt.ClosestTo(target, 3)

	if len(closest) != 3 {
		t.Fatalf("len(closest) = %d, want 3", len(closest))
	}
	if closest[0].ID != target {
		t.Fatalf("closest[0].ID = %x, want exact match to target %x", closest[0].ID, target)
	}
}

func TestRoutingTableClosestToCapsAtK(t *testing.T) {
	var local wire.NodeID
	rt := NewRoutingTable(local)

	for i := byte(1); i <= 5; i++ {
		var id wire.NodeID
		id[31] = i
		rt.Add(NewNode(wire.Peer{ID: id, IP: []byte{127, 0, 0, 1}, Port: wire.Port(3000 + int(i))}))
	}

	var target wire.NodeID
	closest := rt.ClosestTo(target, 100)
	if len(closest) != 5 {
		t.Fatalf("len(closest) = %d, want 5 (only 5 peers known)", len(closest))
	}
}

func TestRoutingTableRemove(t *testing.T) {
	var local wire.NodeID
	rt := NewRoutingTable(local)

	var id wire.NodeID
	id[31] = 1
	rt.Add(NewNode(wire.Peer{ID: id, IP: []byte{127, 0, 0, 1}, Port: 1234}))

	if !rt.Remove(id) {
		t.Fatal("expected remove of a known node to succeed")
	}
	if rt.Size() != 0 {
		t.Fatalf("size after remove = %d, want 0", rt.Size())
	}
}

func TestRoutingTableRemoveStale(t *testing.T) {
	var local wire.NodeID
	rt := NewRoutingTable(local)

	var staleID wire.NodeID
	staleID[31] = 1
	staleNode := NewNode(wire.Peer{ID: staleID, IP: []byte{127, 0, 0, 1}, Port: 1111})
	staleNode.LastSeen = time.Now().Add(-time.Hour)
	rt.Add(staleNode)

	var freshID wire.NodeID
	freshID[31] = 2
	rt.Add(NewNode(wire.Peer{ID: freshID, IP: []byte{127, 0, 0, 1}, Port: 2222}))

	removed := rt.RemoveStale(time.Minute)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if rt.Size() != 1 {
		t.Fatalf("size after RemoveStale = %d, want 1", rt.Size())
	}
}

func TestRoutingTableNodeID(t *testing.T) {
	var local wire.NodeID
	local[0] = 0x42
	rt := NewRoutingTable(local)

	if rt.NodeID() != local {
		t.Fatalf("NodeID() = %x, want %x", rt.NodeID(), local)
	}
}

func peerWithID(b byte) wire.Peer {
	var id wire.NodeID
	id[31] = b
	return wire.Peer{ID: id, IP: []byte{10, 0, 0, b}, Port: wire.Port(5000 + int(b))}
}

func TestKBucketAddAndSize(t *testing.T) {
	b := newKBucket()

	if !b.add(NewNode(peerWithID(1))) {
		t.Fatal("expected first add to succeed")
	}
	if b.size() != 1 {
		t.Fatalf("size = %d, want 1", b.size())
	}

	// Re-adding the same ID updates in place rather than growing the bucket.
	if !b.add(NewNode(peerWithID(1))) {
		t.Fatal("expected re-add of existing node to succeed")
	}
	if b.size() != 1 {
		t.Fatalf("size after re-add = %d, want 1", b.size())
	}
}

func TestKBucketFullOverflowsToReplacements(t *testing.T) {
	b := newKBucket()

	for i := 0; i < constants.DHTBucketSize; i++ {
		if !b.add(NewNode(peerWithID(byte(i)))) {
			t.Fatalf("add %d should have succeeded, bucket not yet full", i)
		}
	}

	overflow := NewNode(peerWithID(byte(constants.DHTBucketSize)))
	if b.add(overflow) {
		t.Fatal("add into a full bucket should report false")
	}
	if b.size() != constants.DHTBucketSize {
		t.Fatalf("size = %d, want %d", b.size(), constants.DHTBucketSize)
	}
}

func TestKBucketRemovePromotesReplacement(t *testing.T) {
	b := newKBucket()

	for i := 0; i < constants.DHTBucketSize; i++ {
		b.add(NewNode(peerWithID(byte(i))))
	}
	replacement := peerWithID(byte(constants.DHTBucketSize))
	b.add(NewNode(replacement))

	b.remove(peerWithID(0).ID)

	if b.size() != constants.DHTBucketSize {
		t.Fatalf("size after remove+promote = %d, want %d", b.size(), constants.DHTBucketSize)
	}

	found := false
	for _, n := range b.all() {
		if n.ID() == replacement.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected replacement node promoted into the bucket after eviction")
	}
}

func TestKBucketRemoveMissingReportsFalse(t *testing.T) {
	b := newKBucket()
	b.add(NewNode(peerWithID(1)))

	if b.remove(peerWithID(99).ID) {
		t.Fatal("removing an absent node should report false")
	}
}

func TestKBucketRemoveStale(t *testing.T) {
	b := newKBucket()

	stale := NewNode(peerWithID(1))
	stale.LastSeen = time.Now().Add(-time.Hour)
	b.add(stale)

	fresh := NewNode(peerWithID(2))
	b.add(fresh)

	removed := b.removeStale(time.Minute)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if b.size() != 1 {
		t.Fatalf("size after removeStale = %d, want 1", b.size())
	}
}
