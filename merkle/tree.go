package merkle

import (
	"context"
	"sort"

	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
)

// NodeFetcher reads the two children of an existing internal node fact, by
// the node's own fact hash and height. It is the capability the tree
// update algorithm uses to read subtrees it does not need to modify,
// standing in for the "fact store passed in as a capability" mentioned in
// spec §9's Design Notes. merkle.Tree never talks to storage directly.
type NodeFetcher interface {
	GetNode(ctx context.Context, hash []byte, height int) (left, right []byte, err error)
}

// Update is a single (index, serialized leaf value) pair to apply, already
// resolved to one tree (batch.Update carries the tree name separately).
type Update struct {
	Index uint64
	Value []byte
}

// Tree is a fixed-height sparse Merkle tree updater. It holds no mutable
// state of its own: every call is Update(oldRoot, deltas) -> (newRoot,
// newFacts), the pure-function shape spec §9 asks for so the algorithm is
// trivially testable offline. This mirrors trillian's HStar3 divide and
// conquer, expressed here as a direct recursion over index ranges rather
// than HStar3's non-recursive level-by-level pass, since this tree's height
// is a small runtime constant (31 or 64) rather than a 256-bit path.
type Tree struct {
	Height int
	Hasher Hasher
	// Empty is the precomputed empty-subtree table, Empty[h] for height h.
	Empty [][]byte
}

// New builds a Tree for the given height, with its empty-subtree table
// derived from emptyLeafHash (the fact hash of the profile's empty leaf
// value).
func New(height int, emptyLeafHash []byte) *Tree {
	h := Hasher{}
	return &Tree{
		Height: height,
		Hasher: h,
		Empty:  BuildEmptyTable(h, height, emptyLeafHash),
	}
}

// Update applies updates to the tree rooted at prevRoot, returning the new
// root and the set of newly-created facts (keyed by raw fact hash, ready
// for facts.Store.PutFacts). fetch is consulted only for subtrees on the
// update path whose existing hash is not an empty-subtree constant.
//
// Indices are deduplicated by spec §4.3 step 1 (last write in input order
// wins) and validated to be in [0, 2^Height) before any fetch is made.
func (t *Tree) Update(ctx context.Context, prevRoot []byte, updates []Update, fetch NodeFetcher) ([]byte, map[string][]byte, error) {
	deduped, err := dedupeAndValidate(updates, t.Height)
	if err != nil {
		return nil, nil, err
	}
	facts := make(map[string][]byte)
	if len(deduped) == 0 {
		return prevRoot, facts, nil
	}
	width := uint64(1) << uint(t.Height)
	root, err := t.apply(ctx, t.Height, 0, width, prevRoot, deduped, fetch, facts)
	if err != nil {
		return nil, nil, err
	}
	return root, facts, nil
}

// dedupeAndValidate sorts updates by index, keeping only the last entry for
// each index (input order defines "last"), and rejects any index outside
// [0, 2^height).
func dedupeAndValidate(updates []Update, height int) ([]Update, error) {
	width := uint64(1) << uint(height)
	last := make(map[uint64]int, len(updates)) // index -> position of last write
	for i, u := range updates {
		if height < 64 && u.Index >= width { // at height 64 every uint64 index is in range
			return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "index %d out of range [0, %d)", u.Index, width)
		}
		last[u.Index] = i
	}
	out := make([]Update, 0, len(last))
	for _, pos := range last {
		out = append(out, updates[pos])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// apply computes the new fact hash for the subtree of the given height
// covering index range [lo, hi), previously rooted at nodeHash, after
// applying the updates (all of which fall within [lo, hi) and are sorted).
func (t *Tree) apply(ctx context.Context, height int, lo, hi uint64, nodeHash []byte, updates []Update, fetch NodeFetcher, facts map[string][]byte) ([]byte, error) {
	if height == 0 {
		if len(updates) != 1 || updates[0].Index != lo {
			return nil, dacerrors.Errorf(dacerrors.Internal, "leaf range [%d,%d) must carry exactly one update, got %d", lo, hi, len(updates))
		}
		leafHash := t.Hasher.HashLeaf(updates[0].Value)
		facts[string(leafHash)] = updates[0].Value
		return leafHash, nil
	}

	// hi wraps to 0 for the rightmost range of a height-64 tree, so the
	// midpoint is derived from the height rather than from hi.
	mid := lo + uint64(1)<<uint(height-1)
	splitAt := sort.Search(len(updates), func(i int) bool { return updates[i].Index >= mid })
	leftUpdates, rightUpdates := updates[:splitAt], updates[splitAt:]

	leftHash, rightHash, err := t.children(ctx, height, nodeHash, fetch)
	if err != nil {
		return nil, err
	}

	if len(leftUpdates) > 0 {
		leftHash, err = t.apply(ctx, height-1, lo, mid, leftHash, leftUpdates, fetch, facts)
		if err != nil {
			return nil, err
		}
	}
	if len(rightUpdates) > 0 {
		rightHash, err = t.apply(ctx, height-1, mid, hi, rightHash, rightUpdates, fetch, facts)
		if err != nil {
			return nil, err
		}
	}

	newHash := t.Hasher.HashChildren(leftHash, rightHash)
	facts[string(newHash)] = append(append([]byte{}, leftHash...), rightHash...)
	return newHash, nil
}

// children returns the two child hashes of the node previously identified
// by nodeHash at the given height, resolving to the empty-subtree constant
// without I/O when nodeHash is itself an empty subtree.
func (t *Tree) children(ctx context.Context, height int, nodeHash []byte, fetch NodeFetcher) (left, right []byte, err error) {
	if string(nodeHash) == string(t.Empty[height]) {
		return t.Empty[height-1], t.Empty[height-1], nil
	}
	if fetch == nil {
		return nil, nil, dacerrors.Errorf(dacerrors.Internal, "merkle: node %x at height %d is not an empty subtree and no fetcher was provided", nodeHash, height)
	}
	return fetch.GetNode(ctx, nodeHash, height)
}
