// Package constants defines cross-cutting constants for the wire codec and
// the search engine: magic prefixes, message kinds, and the fixed search
// parameters (alpha, retry budget) that govern convergence.
package constants

// Search Configuration
const (
	// DHTAlpha is the iterative lookup fan-out width: the number of peers
	// queried concurrently in each round.
	DHTAlpha = 32

	// DHTBucketSize is the capacity k of each routing-table bucket and of
	// its replacement list. The search engine seeds and trims its work
	// queue with DHTAlpha, not with this value.
	DHTBucketSize = 32

	// InitialRetries is the number of non-converging rounds a search
	// tolerates before giving up and returning whatever it found.
	InitialRetries = 3

	// MaxListLen is the largest peer/endpoint count a single query or
	// response list can carry; the wire format reserves one byte for it.
	MaxListLen = 255
)

// Sizing Configuration
const (
	// IDSize is the width, in bytes, of a NodeID (256 bits).
	IDSize = 32

	// TokenSize is the width, in bytes, of an opaque Token.
	TokenSize = 8
)

// Protocol Configuration
const (
	// ProtocolVersion identifies the current wire grammar. There is no
	// version field on the wire beyond the magic prefix itself; bumping
	// this requires a new Magic.
	ProtocolVersion = 1

	// DefaultDHTPort is the default UDP port for the DHT RPC transport.
	DefaultDHTPort = 27490

	// DefaultQUICPort is the default port for the QUIC-backed transport.
	DefaultQUICPort = 27491

	// ALPN is the QUIC application-layer protocol negotiated by the
	// quic transport.
	ALPN = "dht/1"
)

// Wire magic prefixes.
var (
	// Magic is the 8-byte prefix that opens every current-version datagram.
	Magic = [8]byte{0xAF, 0x40, 0x0D, 0x34, 0xA7, 0x88, 0x37, 0x2D}

	// LegacyMagic is the prefix of a pre-256-bit-ID wire format. Datagrams
	// starting with it are reported as OldVersion without further parsing.
	LegacyMagic = []byte("EDHT-KDM-\x00")
)

// Kind discriminators, immediately following the envelope's NodeID.
const (
	KindQuery    byte = 'q' // 0x71
	KindResponse byte = 'r' // 0x72
	KindError    byte = 'e' // 0x65
)

// Query/response body discriminators.
const (
	BodyPing  byte = 'p'
	BodyFind  byte = 'f'
	BodyStore byte = 's'

	FindModeNode  byte = 'n'
	FindModeValue byte = 'v'
)

// Address family tags for peer/endpoint records.
const (
	FamilyIPv4 byte = 0x04
	FamilyIPv6 byte = 0x06
)
