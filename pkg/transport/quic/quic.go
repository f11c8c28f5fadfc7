// Package quic implements the DHT RPC transport collaborator over QUIC:
// one stream per RPC, framed with package wire exactly like the udp
// transport, carried over an encrypted, multiplexed connection instead of
// a bare UDP socket.
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/opendht/dhtcore/pkg/constants"
	"github.com/opendht/dhtcore/pkg/transport"
	"github.com/opendht/dhtcore/pkg/wire"
)

var quicConfig = &quicgo.Config{
	MaxIdleTimeout:  5 * time.Minute,
	KeepAlivePeriod: 30 * time.Second,
}

// Transport is a QUIC-backed RPC transport. Outbound RPCs dial a fresh
// connection per call; ServerTLS, if set, lets Listen accept inbound
// connections and dispatch their queries to Handler.
type Transport struct {
	localID   wire.NodeID
	ServerTLS *tls.Config
	Handler   transport.Handler

	listener *quicgo.Listener
}

// New creates a QUIC transport identifying itself as localID on
// outbound RPCs.
func New(localID wire.NodeID) *Transport {
	return &Transport{localID: localID}
}

// Name returns "quic".
func (t *Transport) Name() string { return "quic" }

// Listen binds addr using ServerTLS and starts accepting inbound
// connections. Peer authentication is out of scope, so ServerTLS needs
// only a certificate to present — verifying who's on the other end of a
// stream is not this transport's job.
func (t *Transport) Listen(addr string) error {
	if t.ServerTLS == nil {
		return fmt.Errorf("quic: Listen requires ServerTLS")
	}
	cfg := t.ServerTLS.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{constants.ALPN}
	}

	ln, err := quicgo.ListenAddr(addr, cfg, quicConfig)
	if err != nil {
		return fmt.Errorf("quic: listen %q: %w", addr, err)
	}
	t.listener = ln
	go t.acceptLoop()
	return nil
}

// Addr returns the listener's bound address, or nil if Listen hasn't
// been called.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Close stops accepting new connections.
func (t *Transport) Close() error {
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept(context.Background())
		if err != nil {
			return
		}
		go t.serveConn(conn)
	}
}

func (t *Transport) serveConn(conn *quicgo.Conn) {
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go t.serveStream(conn, stream)
	}
}

func (t *Transport) serveStream(conn *quicgo.Conn, stream *quicgo.Stream) {
	defer stream.Close()

	buf := make([]byte, 65536)
	n, err := stream.Read(buf)
	if err != nil {
		return
	}
	env, err := wire.Decode(buf[:n])
	if err != nil || env.Kind != wire.BQuery || t.Handler == nil {
		return
	}

	reply := t.Handler.Handle(endpointOf(conn.RemoteAddr()), env)
	if reply == nil {
		return
	}
	reply.Tag = env.Tag
	stream.Write(wire.Encode(reply))
}

// FindNode opens a stream to endpoint and issues a Find{Node} query.
func (t *Transport) FindNode(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error) {
	return t.roundTrip(ctx, endpoint, wire.Query{Kind: wire.QFind, Mode: wire.FindNode, Target: target})
}

// FindValue opens a stream to endpoint and issues a Find{Value} query.
func (t *Transport) FindValue(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error) {
	return t.roundTrip(ctx, endpoint, wire.Query{Kind: wire.QFind, Mode: wire.FindValue, Target: target})
}

// Store opens a stream to endpoint and issues a Store query.
func (t *Transport) Store(ctx context.Context, endpoint wire.Endpoint, token wire.Token, id wire.NodeID, port wire.Port) (*wire.Response, error) {
	return t.roundTrip(ctx, endpoint, wire.Query{Kind: wire.QStore, StoreToken: token, StoreID: id, StorePort: port})
}

func (t *Transport) roundTrip(ctx context.Context, endpoint wire.Endpoint, q wire.Query) (*wire.Response, error) {
	addr := net.JoinHostPort(net.IP(endpoint.IP).String(), fmt.Sprintf("%d", endpoint.Port))

	conn, err := quicgo.DialAddr(ctx, addr, clientTLSConfig(), quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic: dial %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("quic: open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}

	env := &wire.Envelope{Tag: 1, ID: t.localID, Kind: wire.BQuery, Query: q}
	if _, err := stream.Write(wire.Encode(env)); err != nil {
		return nil, fmt.Errorf("quic: write: %w", err)
	}

	buf := make([]byte, 65536)
	n, err := stream.Read(buf)
	if err != nil {
		return nil, transport.ErrTimeout
	}

	reply, err := wire.Decode(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("quic: decode reply: %w", err)
	}
	if reply.Kind == wire.BError {
		return nil, &reply.Error
	}
	return &reply.Response, nil
}

// clientTLSConfig skips verification: peer authentication is out of
// scope for this core, so the client has no certificate to check against.
func clientTLSConfig() *tls.Config {
	return &tls.Config{NextProtos: []string{constants.ALPN}, InsecureSkipVerify: true}
}

func endpointOf(addr net.Addr) wire.Endpoint {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return wire.Endpoint{}
	}
	ip := udpAddr.IP.To4()
	if ip == nil {
		ip = udpAddr.IP.To16()
	}
	return wire.Endpoint{IP: ip, Port: wire.Port(udpAddr.Port)}
}

var _ transport.Transport = (*Transport)(nil)
