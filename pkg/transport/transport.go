// Package transport provides the RPC-shaped transport abstraction the
// search engine drives: find_node and find_value against a single
// endpoint. The wire codec lives below this layer — transport
// implementations serialize with package wire and never expose raw bytes
// to callers.
package transport

import (
	"context"
	"fmt"

	"github.com/opendht/dhtcore/pkg/wire"
)

// Transport issues the RPCs the wire grammar defines. A real
// implementation frames a wire.Query, sends it to endpoint, and waits for
// a correlated wire.Response or a timeout.
type Transport interface {
	// FindNode asks endpoint for its closest peers to target.
	FindNode(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error)

	// FindValue asks endpoint for value-bearing endpoints for target, or
	// failing that, its closest peers to target.
	FindValue(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error)

	// Store presents a token earlier issued by endpoint (typically from a
	// prior FindValue reply) and asks it to remember this node as an
	// endpoint for id. The search engine itself never calls this — it is
	// the follow-up operation a caller makes with a search's Result.
	Store(ctx context.Context, endpoint wire.Endpoint, token wire.Token, id wire.NodeID, port wire.Port) (*wire.Response, error)

	// Name returns the transport's name (e.g. "udp").
	Name() string
}

// Handler answers inbound queries at the transport layer, turning a
// one-sided RPC client into a full peer. Transports that accept a
// Handler dispatch every decoded Query envelope to it and, if it
// returns a non-nil reply, send that reply back to the sender with the
// query's Tag.
type Handler interface {
	Handle(from wire.Endpoint, env *wire.Envelope) *wire.Envelope
}

// ErrTimeout is returned by a Transport when a remote peer does not
// respond within the transport's deadline. The search engine treats this
// identically to any other failed RPC: the peer is marked done but not
// alive.
var ErrTimeout = fmt.Errorf("transport: timeout waiting for response")

// Registry manages available transports, mirroring how a daemon might
// pick a transport by name at startup.
type Registry struct {
	transports map[string]Transport
}

// NewRegistry creates a new transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register registers a transport under the given name.
func (r *Registry) Register(name string, t Transport) {
	r.transports[name] = t
}

// Get returns the transport registered under name.
func (r *Registry) Get(name string) (Transport, bool) {
	t, ok := r.transports[name]
	return t, ok
}

// List returns all registered transport names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry is the process-wide transport registry.
var DefaultRegistry = NewRegistry()
