package merkle

// EmptyTable is the precomputed length-(height+1) table of empty-subtree
// hashes, indexed by height: EmptyTable[0] is the empty leaf's fact hash,
// EmptyTable[h] is the root of an empty subtree of height h. Unreferenced
// subtrees resolve to these constants without any fact-store I/O (spec
// §4.3). Grounded on rfc6962.Hasher.NullHash and on the original source's
// MerkleTree.empty_tree_roots, both of which build the same table by
// repeated self-hashing from an empty-leaf value.
type EmptyTable [][]byte

// BuildEmptyTable computes the table for a tree of the given height, from
// the fact hash of the profile's "empty" leaf value.
func BuildEmptyTable(hasher Hasher, height int, emptyLeafHash []byte) [][]byte {
	table := make([][]byte, height+1)
	table[0] = emptyLeafHash
	for h := 1; h <= height; h++ {
		table[h] = hasher.HashChildren(table[h-1], table[h-1])
	}
	return table
}
