package dht

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/opendht/dhtcore/pkg/constants"
	"github.com/opendht/dhtcore/pkg/metric"
	"github.com/opendht/dhtcore/pkg/transport"
	"github.com/opendht/dhtcore/pkg/wire"
)

// Routing is the routing-table collaborator the search engine consumes:
// the local node's own ID and its k closest known peers to a target.
type Routing interface {
	NodeID() wire.NodeID
	ClosestTo(target wire.NodeID, k int) []wire.Peer
}

// StoreRow pairs a peer that answered a FindValue query with the token it
// issued, so a caller can follow up with Store against that peer.
type StoreRow struct {
	Peer  wire.Peer
	Token wire.Token
}

// Result is what a search run produces. For FindNode, Peers holds every
// peer that responded (Alive). For FindValue, Store and Found hold the
// accumulated tokens and deduplicated endpoints gathered along the way.
type Result struct {
	Peers []wire.Peer
	Store []StoreRow
	Found []wire.Endpoint
	Alive []wire.Peer
}

// Engine drives iterative parallel Kademlia lookups against a routing
// table and a transport.
type Engine struct {
	Routing   Routing
	Transport transport.Transport

	// Alpha bounds per-round fan-out width. InitialRetries is the retry
	// budget a non-converging search is given before it gives up. Zero
	// values fall back to the package defaults.
	Alpha          int
	InitialRetries int
}

// NewEngine builds a search engine over the given routing table and
// transport, using the default search width and retry budget.
func NewEngine(routing Routing, t transport.Transport) *Engine {
	return &Engine{
		Routing:        routing,
		Transport:      t,
		Alpha:          constants.DHTAlpha,
		InitialRetries: constants.InitialRetries,
	}
}

func (e *Engine) alpha() int {
	if e.Alpha > 0 {
		return e.Alpha
	}
	return constants.DHTAlpha
}

func (e *Engine) initialRetries() int {
	if e.InitialRetries > 0 {
		return e.InitialRetries
	}
	return constants.InitialRetries
}

// peerKey identifies a peer by identity and address so alive/done sets can
// use plain maps despite wire.Peer's slice field.
func peerKey(p wire.Peer) string {
	return fmt.Sprintf("%x|%s|%d", p.ID, net.IP(p.IP).String(), p.Port)
}

type queryOutcome struct {
	peer wire.Peer
	resp *wire.Response
	err  error
}

// Run performs an iterative lookup for target, in mode, and returns
// whatever was found when the search converges or exhausts its retry
// budget. Run never fails: a canceled ctx or an unreachable network simply
// yields a smaller Result.
func (e *Engine) Run(ctx context.Context, mode wire.FindMode, target wire.NodeID) Result {
	alpha := e.alpha()
	retries := e.initialRetries()

	done := make(map[string]bool)
	alive := make(map[string]wire.Peer)
	var acc []StoreRow
	foundSet := make(map[string]wire.Endpoint)

	todo := e.Routing.ClosestTo(target, alpha)

	for {
		outcomes := e.fanOut(ctx, mode, target, todo)

		var discovered []wire.Peer
		for _, o := range outcomes {
			key := peerKey(o.peer)
			done[key] = true
			if o.err != nil {
				continue
			}
			alive[key] = o.peer
			discovered = append(discovered, o.resp.Peers...)

			if mode == wire.FindValue {
				acc = append(acc, StoreRow{Peer: o.peer, Token: o.resp.Token})
				for _, ep := range o.resp.Endpoints {
					foundSet[endpointKey(ep)] = ep
				}
			}
		}

		var newPeers []wire.Peer
		seen := make(map[string]bool)
		for _, p := range discovered {
			key := peerKey(p)
			if done[key] || seen[key] {
				continue
			}
			seen[key] = true
			newPeers = append(newPeers, p)
		}

		next := metric.Neighborhood(target, newPeers, alpha)

		aliveSlice := peerValues(alive)
		minWork := metric.MinDistance(target, next)
		minAlive := metric.MinDistance(target, aliveSlice)
		if metric.CloserThan(minWork, minAlive) {
			retries = e.initialRetries()
		} else {
			retries--
		}

		if retries <= 0 {
			return e.finalize(mode, aliveSlice, acc, foundSet)
		}

		select {
		case <-ctx.Done():
			return e.finalize(mode, aliveSlice, acc, foundSet)
		default:
		}

		todo = next
	}
}

func (e *Engine) finalize(mode wire.FindMode, alive []wire.Peer, acc []StoreRow, foundSet map[string]wire.Endpoint) Result {
	found := make([]wire.Endpoint, 0, len(foundSet))
	for _, ep := range foundSet {
		found = append(found, ep)
	}

	result := Result{Alive: alive, Store: acc, Found: found}
	if mode == wire.FindNode {
		result.Peers = alive
	}
	return result
}

// fanOut issues one RPC per peer in todo concurrently and returns each
// result in the same relative order as todo. Transport failures are
// captured as values, never propagated as goroutine errors: the
// errgroup here only coordinates the wait, it never aborts early.
func (e *Engine) fanOut(ctx context.Context, mode wire.FindMode, target wire.NodeID, todo []wire.Peer) []queryOutcome {
	outcomes := make([]queryOutcome, len(todo))

	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range todo {
		i, peer := i, peer
		g.Go(func() error {
			var resp *wire.Response
			var err error
			switch mode {
			case wire.FindNode:
				resp, err = e.Transport.FindNode(gctx, peer.Endpoint(), target)
			case wire.FindValue:
				resp, err = e.Transport.FindValue(gctx, peer.Endpoint(), target)
			}
			outcomes[i] = queryOutcome{peer: peer, resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait() // workers never return a non-nil error; see above

	return outcomes
}

func peerValues(m map[string]wire.Peer) []wire.Peer {
	out := make([]wire.Peer, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

func endpointKey(ep wire.Endpoint) string {
	return fmt.Sprintf("%s|%d", net.IP(ep.IP).String(), ep.Port)
}
