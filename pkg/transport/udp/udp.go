// Package udp implements the DHT's transport collaborator over a raw UDP
// socket: it frames find_node/find_value RPCs with package wire, sends
// them, and correlates replies by the envelope's Tag.
package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opendht/dhtcore/pkg/transport"
	"github.com/opendht/dhtcore/pkg/wire"
)

// Transport is a connectionless RPC transport backed by a *net.UDPConn.
type Transport struct {
	conn    *net.UDPConn
	localID wire.NodeID
	timeout time.Duration

	nextTag uint32

	mu      sync.Mutex
	pending map[wire.Tag]chan *wire.Envelope

	closed chan struct{}

	// Handler, if set, turns this Transport into a responder as well as a
	// client: inbound queries are dispatched to it and any non-nil reply
	// is sent back to the sender.
	Handler transport.Handler
}

// New wraps an already-bound UDP socket as a Transport and starts its
// read loop. The caller owns conn's lifetime; Close stops the read loop
// but does not close conn.
func New(conn *net.UDPConn, localID wire.NodeID, timeout time.Duration) *Transport {
	t := &Transport{
		conn:    conn,
		localID: localID,
		timeout: timeout,
		pending: make(map[wire.Tag]chan *wire.Envelope),
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Listen is a convenience constructor that binds addr and returns a ready
// Transport.
func Listen(addr string, localID wire.NodeID, timeout time.Duration) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %q: %w", addr, err)
	}
	return New(conn, localID, timeout), nil
}

// Name returns "udp".
func (t *Transport) Name() string { return "udp" }

// Close stops the read loop and releases pending waiters without closing
// the underlying socket.
func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	t.conn.SetReadDeadline(time.Now()) // unblock the read loop so it sees closed
	return nil
}

// FindNode sends a Find{Node} query to endpoint and awaits the correlated
// response.
func (t *Transport) FindNode(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error) {
	return t.roundTrip(ctx, endpoint, wire.Query{Kind: wire.QFind, Mode: wire.FindNode, Target: target})
}

// FindValue sends a Find{Value} query to endpoint and awaits the
// correlated response.
func (t *Transport) FindValue(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error) {
	return t.roundTrip(ctx, endpoint, wire.Query{Kind: wire.QFind, Mode: wire.FindValue, Target: target})
}

// Store presents token to endpoint and asks it to remember this node for
// id on port.
func (t *Transport) Store(ctx context.Context, endpoint wire.Endpoint, token wire.Token, id wire.NodeID, port wire.Port) (*wire.Response, error) {
	return t.roundTrip(ctx, endpoint, wire.Query{Kind: wire.QStore, StoreToken: token, StoreID: id, StorePort: port})
}

func (t *Transport) roundTrip(ctx context.Context, endpoint wire.Endpoint, q wire.Query) (*wire.Response, error) {
	tag := wire.Tag(atomic.AddUint32(&t.nextTag, 1))

	ch := make(chan *wire.Envelope, 1)
	t.mu.Lock()
	t.pending[tag] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, tag)
		t.mu.Unlock()
	}()

	env := &wire.Envelope{Tag: tag, ID: t.localID, Kind: wire.BQuery, Query: q}
	data := wire.Encode(env)

	addr := &net.UDPAddr{IP: net.IP(endpoint.IP), Port: int(endpoint.Port)}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return nil, fmt.Errorf("udp: write to %v: %w", addr, err)
	}

	deadline := time.NewTimer(t.timeout)
	defer deadline.Stop()

	select {
	case reply := <-ch:
		if reply.Kind == wire.BError {
			return nil, &reply.Error
		}
		return &reply.Response, nil
	case <-deadline.C:
		return nil, transport.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, transport.ErrTimeout
	}
}

func (t *Transport) readLoop() {
	buf := make([]byte, 65536)
	for {
		select {
		case <-t.closed:
			return
		default:
		}

		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				continue
			}
		}

		env, err := wire.Decode(buf[:n])
		if err != nil {
			continue // malformed datagram: drop it
		}
		if env.Kind == wire.BQuery {
			t.serveQuery(addr, env)
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[env.Tag]
		t.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// serveQuery dispatches an inbound query to Handler, if set, and writes
// back whatever reply it produces under the query's own Tag.
func (t *Transport) serveQuery(addr *net.UDPAddr, env *wire.Envelope) {
	if t.Handler == nil {
		return
	}
	ip := addr.IP.To4()
	if ip == nil {
		ip = addr.IP.To16()
	}
	reply := t.Handler.Handle(wire.Endpoint{IP: ip, Port: wire.Port(addr.Port)}, env)
	if reply == nil {
		return
	}
	reply.Tag = env.Tag
	t.conn.WriteToUDP(wire.Encode(reply), addr)
}

var _ transport.Transport = (*Transport)(nil)
