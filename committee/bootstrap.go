package committee

import "github.com/starkware-libs/starkex-data-availability-committee/merkle"

// EmptyRoots computes the batch -1 bootstrap pointer: the empty-state root
// of every configured tree, so a fresh node ingesting batch 0 with
// reference_batch_id = -1 has a root pointer to read (SPEC_FULL.md §5.7,
// grounded on original_source/committee.py's compute_initial_batch_info).
func EmptyRoots(trees map[string]*merkle.Tree) map[string][]byte {
	roots := make(map[string][]byte, len(trees))
	for name, tree := range trees {
		roots[name] = tree.Empty[tree.Height]
	}
	return roots
}
