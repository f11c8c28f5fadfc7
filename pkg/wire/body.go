package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/opendht/dhtcore/pkg/constants"
)

// encodeQuery writes a Query body per the wire grammar.
func encodeQuery(buf *bytes.Buffer, q *Query) {
	switch q.Kind {
	case QPing:
		buf.WriteByte(constants.BodyPing)
	case QFind:
		buf.WriteByte(constants.BodyFind)
		if q.Mode == FindValue {
			buf.WriteByte(constants.FindModeValue)
		} else {
			buf.WriteByte(constants.FindModeNode)
		}
		buf.Write(q.Target[:])
	case QStore:
		buf.WriteByte(constants.BodyStore)
		buf.Write(q.StoreToken[:])
		buf.Write(q.StoreID[:])
		writePort(buf, q.StorePort)
	}
}

func decodeQuery(r *reader) (*Query, error) {
	disc, ok := r.byte()
	if !ok {
		return nil, NewDecodeError(Truncated, r.pos)
	}

	switch disc {
	case constants.BodyPing:
		return &Query{Kind: QPing}, nil

	case constants.BodyFind:
		mode, ok := r.byte()
		if !ok {
			return nil, NewDecodeError(Truncated, r.pos)
		}
		target := r.take(constants.IDSize)
		if target == nil {
			return nil, NewDecodeError(Truncated, r.pos)
		}
		q := &Query{Kind: QFind}
		copy(q.Target[:], target)
		switch mode {
		case constants.FindModeNode:
			q.Mode = FindNode
		case constants.FindModeValue:
			q.Mode = FindValue
		default:
			return nil, NewDecodeError(UnknownBody, r.pos-1)
		}
		return q, nil

	case constants.BodyStore:
		token := r.take(constants.TokenSize)
		if token == nil {
			return nil, NewDecodeError(Truncated, r.pos)
		}
		id := r.take(constants.IDSize)
		if id == nil {
			return nil, NewDecodeError(Truncated, r.pos)
		}
		port, err := readPort(r)
		if err != nil {
			return nil, err
		}
		q := &Query{Kind: QStore, StorePort: port}
		copy(q.StoreToken[:], token)
		copy(q.StoreID[:], id)
		return q, nil

	default:
		return nil, NewDecodeError(UnknownBody, r.pos-1)
	}
}

// encodeResponse writes a Response body per the wire grammar.
func encodeResponse(buf *bytes.Buffer, resp *Response) {
	switch resp.Kind {
	case RPing:
		buf.WriteByte(constants.BodyPing)
	case RFindNode:
		buf.WriteByte(constants.BodyFind)
		buf.WriteByte(constants.FindModeNode)
		buf.Write(resp.Token[:])
		buf.WriteByte(byte(len(resp.Peers)))
		for _, p := range resp.Peers {
			encodePeer(buf, p)
		}
	case RFindValue:
		buf.WriteByte(constants.BodyFind)
		buf.WriteByte(constants.FindModeValue)
		buf.Write(resp.Token[:])
		buf.WriteByte(byte(len(resp.Endpoints)))
		for _, e := range resp.Endpoints {
			encodeEndpoint(buf, e)
		}
	case RStore:
		buf.WriteByte(constants.BodyStore)
	}
}

func decodeResponse(r *reader) (*Response, error) {
	disc, ok := r.byte()
	if !ok {
		return nil, NewDecodeError(Truncated, r.pos)
	}

	switch disc {
	case constants.BodyPing:
		return &Response{Kind: RPing}, nil

	case constants.BodyFind:
		mode, ok := r.byte()
		if !ok {
			return nil, NewDecodeError(Truncated, r.pos)
		}
		tokenBytes := r.take(constants.TokenSize)
		if tokenBytes == nil {
			return nil, NewDecodeError(Truncated, r.pos)
		}
		count, ok := r.byte()
		if !ok {
			return nil, NewDecodeError(Truncated, r.pos)
		}

		resp := &Response{}
		copy(resp.Token[:], tokenBytes)

		switch mode {
		case constants.FindModeNode:
			resp.Kind = RFindNode
			resp.Peers = make([]Peer, 0, count)
			for i := 0; i < int(count); i++ {
				p, err := decodePeer(r)
				if err != nil {
					return nil, err
				}
				resp.Peers = append(resp.Peers, *p)
			}
		case constants.FindModeValue:
			resp.Kind = RFindValue
			resp.Endpoints = make([]Endpoint, 0, count)
			for i := 0; i < int(count); i++ {
				e, err := decodeEndpoint(r)
				if err != nil {
					return nil, err
				}
				resp.Endpoints = append(resp.Endpoints, *e)
			}
		default:
			return nil, NewDecodeError(UnknownBody, r.pos-1)
		}
		return resp, nil

	case constants.BodyStore:
		return &Response{Kind: RStore}, nil

	default:
		return nil, NewDecodeError(UnknownBody, r.pos-1)
	}
}

// encodeError writes an Error body: errcode(2 BE) ‖ msg(remainder).
func encodeError(buf *bytes.Buffer, e *Error) {
	var codeBytes [2]byte
	binary.BigEndian.PutUint16(codeBytes[:], e.Code)
	buf.Write(codeBytes[:])
	buf.Write(e.Message)
}

func decodeError(r *reader) (*Error, error) {
	codeBytes := r.take(2)
	if codeBytes == nil {
		return nil, NewDecodeError(Truncated, r.pos)
	}
	return &Error{
		Code:    binary.BigEndian.Uint16(codeBytes),
		Message: append([]byte(nil), r.remaining()...),
	}, nil
}

func writePort(buf *bytes.Buffer, port Port) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(port))
	buf.Write(b[:])
}

func readPort(r *reader) (Port, error) {
	b := r.take(2)
	if b == nil {
		return 0, NewDecodeError(Truncated, r.pos)
	}
	return Port(binary.BigEndian.Uint16(b)), nil
}
