// Package cborcanon provides canonical CBOR encoding helpers: RFC 7049
// canonical encoding (length-first sorted map keys, shortest-form
// integers and floats, definite lengths only) so the same value always
// serializes to the same bytes. The
// DHT core uses this for on-disk state that must diff cleanly and never
// drift between writer and reader, such as the bootstrap seed list.
package cborcanon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CanonicalMode is a CBOR encoding mode with canonical settings:
// deterministic key order, shortest-form floats, integer timestamps.
var CanonicalMode cbor.EncMode

func init() {
	var err error
	CanonicalMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create canonical CBOR mode: %v", err))
	}
}

// Marshal encodes v into canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return CanonicalMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Canonical encoding only constrains
// the writer; any well-formed CBOR decodes the same way regardless of
// the key order or type choices it was written with.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
