// Package batch defines the account-state batch descriptor the committee
// ingests from the Availability Gateway, independent of how the gateway
// encodes it over the wire.
package batch

// Profile selects which trees a batch carries and how their leaves are
// serialized.
type Profile string

const (
	// StarkEx is the base exchange profile: vault + order trees.
	StarkEx Profile = "stark_ex"
	// Perpetual is the perpetuals profile: position + order trees, plus an
	// optional rollup_vault tree.
	Perpetual Profile = "perpetual"
)

// Tree names, used as keys into Descriptor.DeclaredRoots and
// Descriptor.DeclaredPrevRoots, and as Update.Tree.
const (
	TreeVault       = "vault"
	TreePosition    = "position"
	TreeOrder       = "order"
	TreeRollupVault = "rollup_vault"
)

// Update is a single (index, leaf value) pair within one tree's delta.
// Later entries in a Descriptor's Updates for the same (Tree, Index) take
// precedence: "last write wins" per spec §4.3 step 1.
type Update struct {
	Tree  string
	Index uint64
	Value []byte
}

// Descriptor is the immutable batch the committee is asked to verify. It is
// the Go-native, profile-agnostic counterpart of the gateway's JSON batch
// payload (§6) and the Python original's StateUpdateBase.
type Descriptor struct {
	// BatchID is the monotonically-assigned, non-dense, possibly
	// non-monotonic-after-reorg batch identifier.
	BatchID int64
	// ReferenceBatchID is the batch this delta applies to, or -1 for the
	// empty initial state.
	ReferenceBatchID int64
	// Updates is the ordered list of leaf changes across all of the
	// profile's trees.
	Updates []Update
	// DeclaredRoots is the operator-claimed post-batch root per tree name,
	// to be compared against the locally computed root.
	DeclaredRoots map[string][]byte
	// DeclaredPrevRoots is the operator-claimed pre-batch root per tree
	// name, checked against the locally stored reference root.
	DeclaredPrevRoots map[string][]byte
}

// UpdatesFor returns the subset of d.Updates touching the named tree, in
// their original relative order (dedup/sort happens inside merkle.Tree).
func (d *Descriptor) UpdatesFor(tree string) []Update {
	var out []Update
	for _, u := range d.Updates {
		if u.Tree == tree {
			out = append(out, u)
		}
	}
	return out
}

// Trees returns the ordered list of tree names a profile declares. Order
// matters: it is also the order in which roots are hashed into the signed
// attestation message (spec §4.6), excluding TreeRollupVault which is never
// signed (SPEC_FULL.md §4).
func Trees(p Profile) []string {
	switch p {
	case StarkEx:
		return []string{TreeVault, TreeOrder}
	case Perpetual:
		return []string{TreePosition, TreeOrder}
	default:
		return nil
	}
}

// SignedTrees returns the subset (and order) of Trees(p) whose roots are
// hashed into the attestation message. Currently identical to Trees, since
// neither profile signs over TreeRollupVault (which is not included in
// Trees at all) — kept as a separate accessor so a future profile that
// tracks but excludes one of its own trees has a place to diverge.
func SignedTrees(p Profile) []string {
	return Trees(p)
}
