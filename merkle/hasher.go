// Package merkle implements the fixed-height, sparse, versioned Merkle tree
// at the core of the committee's state reconstruction (spec §4.3).
package merkle

import "github.com/ethereum/go-ethereum/crypto"

// Domain separation prefixes, in the manner of rfc6962.Hasher's
// RFC6962LeafHashPrefix/RFC6962NodeHashPrefix: the same underlying hash
// function is used for leaves and internal nodes, but a leading byte keeps
// a leaf fact from ever colliding with an internal node fact.
const (
	leafHashPrefix = 0
	nodeHashPrefix = 1
)

// Hasher computes content-addressed fact hashes for one tree. The leaf
// encoding is profile-defined (spec §3); the internal-node encoding is
// fixed: H(prefix || left || right).
type Hasher struct{}

// HashLeaf returns the fact hash of a leaf's already-serialized value.
func (Hasher) HashLeaf(value []byte) []byte {
	return crypto.Keccak256(append([]byte{leafHashPrefix}, value...))
}

// HashChildren returns the fact hash of an internal node from its two
// children's fact hashes.
func (Hasher) HashChildren(left, right []byte) []byte {
	buf := make([]byte, 0, 1+len(left)+len(right))
	buf = append(buf, nodeHashPrefix)
	buf = append(buf, left...)
	buf = append(buf, right...)
	return crypto.Keccak256(buf)
}

// Size returns the number of bytes in a fact hash.
func (Hasher) Size() int {
	return 32
}
