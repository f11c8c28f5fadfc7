package wire

import "lukechampine.com/blake3"

// HashID derives a NodeID from arbitrary content by taking its 256-bit
// BLAKE3 digest. The core itself is content-neutral: callers pick
// IDs, typically content hashes, and this is the hash a caller reaches
// for when it doesn't already have a 256-bit value to use directly.
func HashID(content []byte) NodeID {
	return NodeID(blake3.Sum256(content))
}
