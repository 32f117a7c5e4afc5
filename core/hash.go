package core

import "encoding/hex"

// Hash is a 32-byte digest, used for storage root hashes and event content
// hashes. Grounded on the teacher's Hash [32]byte idiom.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}

func HashFromBytes(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}
