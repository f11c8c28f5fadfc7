package wire

import "fmt"

// DecodeErrorCode enumerates the ways a datagram can fail to decode. None
// of these represent a panic: decode always returns a value, never a
// stack unwind.
type DecodeErrorCode int

const (
	// Truncated means the datagram ended before a declared structure
	// could be read in full.
	Truncated DecodeErrorCode = iota
	// UnknownKind means the byte following the envelope is not one of
	// 'q', 'r', 'e'.
	UnknownKind
	// UnknownBody means the discriminator inside a query/response body
	// is not one the grammar recognizes.
	UnknownBody
	// UnknownFamily means a peer/endpoint record's family tag is not
	// 0x04 or 0x06.
	UnknownFamily
	// OldVersion means the legacy magic prefix was recognized; the
	// payload was not parsed further.
	OldVersion
	// BadMagic means the input starts with neither the current nor the
	// legacy magic prefix.
	BadMagic
)

var decodeErrorNames = map[DecodeErrorCode]string{
	Truncated:     "truncated",
	UnknownKind:   "unknown kind",
	UnknownBody:   "unknown body",
	UnknownFamily: "unknown family",
	OldVersion:    "old version",
	BadMagic:      "bad magic",
}

func (c DecodeErrorCode) String() string {
	if name, ok := decodeErrorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("DecodeErrorCode(%d)", int(c))
}

// DecodeError is returned by Decode whenever a datagram cannot be turned
// into an Envelope. It carries enough context to log the failure without
// re-parsing the packet.
type DecodeError struct {
	Code DecodeErrorCode
	// Offset is the byte position at which decoding gave up.
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode failed at byte %d: %s", e.Offset, e.Code)
}

// NewDecodeError builds a DecodeError at the given offset.
func NewDecodeError(code DecodeErrorCode, offset int) *DecodeError {
	return &DecodeError{Code: code, Offset: offset}
}

// IsDecodeError reports whether err is a *DecodeError of the given code.
func IsDecodeError(err error, code DecodeErrorCode) bool {
	de, ok := err.(*DecodeError)
	return ok && de.Code == code
}
