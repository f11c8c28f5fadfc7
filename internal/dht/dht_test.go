package dht

import (
	"context"
	"testing"

	"github.com/opendht/dhtcore/pkg/wire"
)

// noopTransport satisfies transport.Transport without reaching any
// network; DHT.Handle is exercised directly, never through it, but New
// still needs something to hand the search engine.
type noopTransport struct{}

func (noopTransport) FindNode(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error) {
	return nil, context.Canceled
}
func (noopTransport) FindValue(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error) {
	return nil, context.Canceled
}
func (noopTransport) Store(ctx context.Context, endpoint wire.Endpoint, token wire.Token, id wire.NodeID, port wire.Port) (*wire.Response, error) {
	return nil, context.Canceled
}
func (noopTransport) Name() string { return "noop" }

func newTestDHT() (*DHT, wire.NodeID) {
	var local wire.NodeID
	local[0] = 0x01
	return New(local, noopTransport{}), local
}

func TestDHTHandlePing(t *testing.T) {
	d, local := newTestDHT()

	var remote wire.NodeID
	remote[0] = 0x02
	from := wire.Endpoint{IP: []byte{10, 0, 0, 1}, Port: 9999}

	reply := d.Handle(from, &wire.Envelope{ID: remote, Kind: wire.BQuery, Query: wire.Query{Kind: wire.QPing}})

	if reply == nil || reply.Kind != wire.BResponse || reply.Response.Kind != wire.RPing {
		t.Fatalf("unexpected ping reply: %+v", reply)
	}
	if reply.ID != local {
		t.Fatalf("reply.ID = %x, want local %x", reply.ID, local)
	}

	// Any inbound query should also refresh the sender's routing entry.
	if d.RoutingTable().Size() != 1 {
		t.Fatalf("routing table size = %d, want 1 after handling a query", d.RoutingTable().Size())
	}
}

func TestDHTHandleFindNode(t *testing.T) {
	d, _ := newTestDHT()

	var known wire.NodeID
	known[0] = 0x10
	d.Seen(wire.Peer{ID: known, IP: []byte{10, 0, 0, 2}, Port: 1234})

	var remote wire.NodeID
	remote[0] = 0x02
	from := wire.Endpoint{IP: []byte{10, 0, 0, 1}, Port: 9999}

	var target wire.NodeID
	target[0] = 0x11

	reply := d.Handle(from, &wire.Envelope{ID: remote, Kind: wire.BQuery, Query: wire.Query{
		Kind: wire.QFind, Mode: wire.FindNode, Target: target,
	}})

	if reply == nil || reply.Response.Kind != wire.RFindNode {
		t.Fatalf("unexpected find reply: %+v", reply)
	}
	found := false
	for _, p := range reply.Response.Peers {
		if p.ID == known {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the previously seen peer among FindNode results")
	}
}

func TestDHTStoreThenFindValue(t *testing.T) {
	d, _ := newTestDHT()

	var remote wire.NodeID
	remote[0] = 0x02
	from := wire.Endpoint{IP: []byte{10, 0, 0, 1}, Port: 9999}

	var target wire.NodeID
	target[0] = 0x33

	findReply := d.Handle(from, &wire.Envelope{ID: remote, Kind: wire.BQuery, Query: wire.Query{
		Kind: wire.QFind, Mode: wire.FindValue, Target: target,
	}})
	token := findReply.Response.Token

	storeReply := d.Handle(from, &wire.Envelope{ID: remote, Kind: wire.BQuery, Query: wire.Query{
		Kind: wire.QStore, StoreToken: token, StoreID: target, StorePort: 4040,
	}})
	if storeReply.Kind != wire.BResponse || storeReply.Response.Kind != wire.RStore {
		t.Fatalf("store with a valid token should succeed, got %+v", storeReply)
	}

	valueReply := d.Handle(from, &wire.Envelope{ID: remote, Kind: wire.BQuery, Query: wire.Query{
		Kind: wire.QFind, Mode: wire.FindValue, Target: target,
	}})
	if valueReply.Response.Kind != wire.RFindValue || len(valueReply.Response.Endpoints) != 1 {
		t.Fatalf("expected one stored endpoint for target, got %+v", valueReply.Response)
	}
	if valueReply.Response.Endpoints[0].Port != 4040 {
		t.Fatalf("stored endpoint port = %d, want 4040", valueReply.Response.Endpoints[0].Port)
	}
}

func TestDHTStoreRejectsBadToken(t *testing.T) {
	d, _ := newTestDHT()

	var remote wire.NodeID
	remote[0] = 0x02
	from := wire.Endpoint{IP: []byte{10, 0, 0, 1}, Port: 9999}

	var target wire.NodeID
	target[0] = 0x44

	reply := d.Handle(from, &wire.Envelope{ID: remote, Kind: wire.BQuery, Query: wire.Query{
		Kind: wire.QStore, StoreToken: wire.Token{9, 9, 9, 9, 9, 9, 9, 9}, StoreID: target, StorePort: 1,
	}})
	if reply.Kind != wire.BError {
		t.Fatalf("store with a forged token should error, got %+v", reply)
	}
}
