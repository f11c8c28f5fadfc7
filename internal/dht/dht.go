// Package dht ties the routing table, the wire transport, and the search
// engine together into a single peer: something has to own the
// collaborators the search engine only consumes, and something has to
// answer the queries other peers send this node.
package dht

import (
	"context"
	"sync"

	"github.com/opendht/dhtcore/pkg/transport"
	"github.com/opendht/dhtcore/pkg/wire"
)

// storedValue is an endpoint this node has agreed, via a successful
// Store, to report back on future FindValue queries for id. This is
// bookkeeping for the wire protocol's Store/FindValue response shape,
// not a durable value-storage backend.
type storedValue struct {
	endpoints []wire.Endpoint
}

// DHT is a single participant in the network: a routing table, a
// transport, the search engine that drives lookups through both, and the
// small amount of local state needed to answer Ping/Find/Store queries
// from other peers.
type DHT struct {
	routing   *RoutingTable
	transport transport.Transport
	engine    *Engine
	tokens    *tokenIssuer

	mu     sync.RWMutex
	values map[wire.NodeID]*storedValue
}

// New creates a DHT identified by localID, driving RPCs through t. New
// does not install the DHT as t's Handler; a caller that wants it to
// answer inbound queries sets that on t separately.
func New(localID wire.NodeID, t transport.Transport) *DHT {
	routing := NewRoutingTable(localID)
	return &DHT{
		routing:   routing,
		transport: t,
		engine:    NewEngine(routing, t),
		tokens:    newTokenIssuer(),
		values:    make(map[wire.NodeID]*storedValue),
	}
}

// NodeID returns the local identifier.
func (d *DHT) NodeID() wire.NodeID { return d.routing.NodeID() }

// RoutingTable exposes the collaborator Engine consumes, so a
// caller can inspect or seed it directly (e.g. from a bootstrap seed
// file).
func (d *DHT) RoutingTable() *RoutingTable { return d.routing }

// Seen records that peer is reachable, adding it to the routing table.
func (d *DHT) Seen(peer wire.Peer) {
	d.routing.Add(NewNode(peer))
}

// FindNode performs an iterative FIND_NODE lookup for target and returns
// every peer found alive.
func (d *DHT) FindNode(ctx context.Context, target wire.NodeID) []wire.Peer {
	return d.engine.Run(ctx, wire.FindNode, target).Peers
}

// FindValue performs an iterative FIND_VALUE lookup for target.
func (d *DHT) FindValue(ctx context.Context, target wire.NodeID) Result {
	return d.engine.Run(ctx, wire.FindValue, target)
}

// Announce makes this node discoverable as an endpoint for target: it
// runs a FindValue lookup to collect tokens from the peers closest to
// target, then presents each one a Store naming port as where to reach
// this node.
func (d *DHT) Announce(ctx context.Context, target wire.NodeID, port wire.Port) []wire.Peer {
	result := d.engine.Run(ctx, wire.FindValue, target)

	var stored []wire.Peer
	for _, row := range result.Store {
		_, err := d.transport.Store(ctx, row.Peer.Endpoint(), row.Token, target, port)
		if err != nil {
			continue
		}
		stored = append(stored, row.Peer)
	}
	return stored
}

// Handle answers an inbound query, implementing transport.Handler. Every
// inbound query also freshens the sender's routing-table entry — the
// same "update on contact" rule a bucket's eviction policy relies on.
func (d *DHT) Handle(from wire.Endpoint, env *wire.Envelope) *wire.Envelope {
	if env.Kind != wire.BQuery {
		return nil
	}

	d.Seen(wire.Peer{ID: env.ID, IP: from.IP, Port: from.Port})

	switch env.Query.Kind {
	case wire.QPing:
		return &wire.Envelope{ID: d.NodeID(), Kind: wire.BResponse, Response: wire.Response{Kind: wire.RPing}}

	case wire.QFind:
		return d.handleFind(from, env)

	case wire.QStore:
		return d.handleStore(from, env)

	default:
		return nil
	}
}

func (d *DHT) handleFind(from wire.Endpoint, env *wire.Envelope) *wire.Envelope {
	target := env.Query.Target
	token := d.tokens.Issue(from)

	if env.Query.Mode == wire.FindValue {
		d.mu.RLock()
		stored, ok := d.values[target]
		d.mu.RUnlock()
		if ok {
			return &wire.Envelope{ID: d.NodeID(), Kind: wire.BResponse, Response: wire.Response{
				Kind: wire.RFindValue, Token: token, Endpoints: stored.endpoints,
			}}
		}
	}

	peers := d.routing.ClosestTo(target, len(d.routing.buckets))
	if len(peers) > 255 {
		peers = peers[:255]
	}
	return &wire.Envelope{ID: d.NodeID(), Kind: wire.BResponse, Response: wire.Response{
		Kind: wire.RFindNode, Token: token, Peers: peers,
	}}
}

func (d *DHT) handleStore(from wire.Endpoint, env *wire.Envelope) *wire.Envelope {
	q := env.Query
	if !d.tokens.Verify(from, q.StoreToken) {
		return &wire.Envelope{ID: d.NodeID(), Kind: wire.BError, Error: wire.Error{
			Code: 1, Message: []byte("invalid or expired token"),
		}}
	}

	ep := wire.Endpoint{IP: from.IP, Port: q.StorePort}

	d.mu.Lock()
	stored, ok := d.values[q.StoreID]
	if !ok {
		stored = &storedValue{}
		d.values[q.StoreID] = stored
	}
	if !containsEndpoint(stored.endpoints, ep) {
		stored.endpoints = append(stored.endpoints, ep)
	}
	d.mu.Unlock()

	return &wire.Envelope{ID: d.NodeID(), Kind: wire.BResponse, Response: wire.Response{Kind: wire.RStore}}
}

func containsEndpoint(eps []wire.Endpoint, ep wire.Endpoint) bool {
	for _, e := range eps {
		if e.Port == ep.Port && string(e.IP) == string(ep.IP) {
			return true
		}
	}
	return false
}

var _ transport.Handler = (*DHT)(nil)
