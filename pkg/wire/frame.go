package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/opendht/dhtcore/pkg/constants"
)

// Encode serializes an Envelope to its exact wire representation.
// Encode is a total function over the value domain: every well-formed
// Envelope produces a deterministic, byte-for-byte stable datagram.
func Encode(env *Envelope) []byte {
	var buf bytes.Buffer
	buf.Write(constants.Magic[:])

	var tagBytes [2]byte
	binary.BigEndian.PutUint16(tagBytes[:], uint16(env.Tag))
	buf.Write(tagBytes[:])

	buf.Write(env.ID[:])

	switch env.Kind {
	case BQuery:
		buf.WriteByte(constants.KindQuery)
		encodeQuery(&buf, &env.Query)
	case BResponse:
		buf.WriteByte(constants.KindResponse)
		encodeResponse(&buf, &env.Response)
	case BError:
		buf.WriteByte(constants.KindError)
		encodeError(&buf, &env.Error)
	}

	return buf.Bytes()
}

// Decode parses a datagram into an Envelope, or returns a *DecodeError.
// Decode never panics: truncated input, an unrecognized kind or body
// discriminator, or an unrecognized address family all yield a typed
// error rather than a partial or corrupted value.
func Decode(data []byte) (*Envelope, error) {
	r := &reader{data: data}

	magic := r.take(8)
	if magic == nil || !bytes.Equal(magic, constants.Magic[:]) {
		if bytes.HasPrefix(data, constants.LegacyMagic) {
			return nil, NewDecodeError(OldVersion, 0)
		}
		if magic == nil {
			return nil, NewDecodeError(Truncated, r.pos)
		}
		return nil, NewDecodeError(BadMagic, 0)
	}

	tagBytes := r.take(2)
	if tagBytes == nil {
		return nil, NewDecodeError(Truncated, r.pos)
	}

	idBytes := r.take(constants.IDSize)
	if idBytes == nil {
		return nil, NewDecodeError(Truncated, r.pos)
	}

	kindByte, ok := r.byte()
	if !ok {
		return nil, NewDecodeError(Truncated, r.pos)
	}

	env := &Envelope{Tag: Tag(binary.BigEndian.Uint16(tagBytes))}
	copy(env.ID[:], idBytes)

	switch kindByte {
	case constants.KindQuery:
		env.Kind = BQuery
		q, err := decodeQuery(r)
		if err != nil {
			return nil, err
		}
		env.Query = *q
	case constants.KindResponse:
		env.Kind = BResponse
		resp, err := decodeResponse(r)
		if err != nil {
			return nil, err
		}
		env.Response = *resp
	case constants.KindError:
		env.Kind = BError
		e, err := decodeError(r)
		if err != nil {
			return nil, err
		}
		env.Error = *e
	default:
		return nil, NewDecodeError(UnknownKind, r.pos-1)
	}

	return env, nil
}

// reader is a bounds-checked cursor over a datagram. Every take/byte call
// reports failure instead of panicking on short input.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) take(n int) []byte {
	if r.pos+n > len(r.data) {
		r.pos = len(r.data)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) byte() (byte, bool) {
	b := r.take(1)
	if b == nil {
		return 0, false
	}
	return b[0], true
}

func (r *reader) remaining() []byte {
	return r.data[r.pos:]
}
