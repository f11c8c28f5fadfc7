package wire

import (
	"bytes"

	"github.com/opendht/dhtcore/pkg/constants"
)

// family returns the address family tag for an IP byte slice, as encoded
// on the wire: 0x04 for a 4-byte IPv4 address, 0x06 for a 16-byte IPv6
// address.
func family(ip []byte) byte {
	if len(ip) == 16 {
		return constants.FamilyIPv6
	}
	return constants.FamilyIPv4
}

// encodePeer writes a peer record: family(1) ‖ id(32) ‖ addr ‖ port(2 BE).
func encodePeer(buf *bytes.Buffer, p Peer) {
	buf.WriteByte(family(p.IP))
	buf.Write(p.ID[:])
	buf.Write(p.IP)
	writePort(buf, p.Port)
}

func decodePeer(r *reader) (*Peer, error) {
	fam, ok := r.byte()
	if !ok {
		return nil, NewDecodeError(Truncated, r.pos)
	}

	addrLen, err := addrLenForFamily(fam, r.pos-1)
	if err != nil {
		return nil, err
	}

	id := r.take(constants.IDSize)
	if id == nil {
		return nil, NewDecodeError(Truncated, r.pos)
	}
	addr := r.take(addrLen)
	if addr == nil {
		return nil, NewDecodeError(Truncated, r.pos)
	}
	port, err := readPort(r)
	if err != nil {
		return nil, err
	}

	p := &Peer{IP: append([]byte(nil), addr...), Port: port}
	copy(p.ID[:], id)
	return p, nil
}

// encodeEndpoint writes an endpoint record: family(1) ‖ addr ‖ port(2 BE).
func encodeEndpoint(buf *bytes.Buffer, e Endpoint) {
	buf.WriteByte(family(e.IP))
	buf.Write(e.IP)
	writePort(buf, e.Port)
}

func decodeEndpoint(r *reader) (*Endpoint, error) {
	fam, ok := r.byte()
	if !ok {
		return nil, NewDecodeError(Truncated, r.pos)
	}

	addrLen, err := addrLenForFamily(fam, r.pos-1)
	if err != nil {
		return nil, err
	}

	addr := r.take(addrLen)
	if addr == nil {
		return nil, NewDecodeError(Truncated, r.pos)
	}
	port, err := readPort(r)
	if err != nil {
		return nil, err
	}

	return &Endpoint{IP: append([]byte(nil), addr...), Port: port}, nil
}

func addrLenForFamily(fam byte, offset int) (int, error) {
	switch fam {
	case constants.FamilyIPv4:
		return 4, nil
	case constants.FamilyIPv6:
		return 16, nil
	default:
		return 0, NewDecodeError(UnknownFamily, offset)
	}
}
