// Package committee implements the polling state machine that drives batch
// ingestion end to end (spec §4.7): it owns the cursor and root-pointer
// namespaces, and sequences the gateway, applier, and signer through one
// cycle per batch.
package committee

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"

	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
	"github.com/starkware-libs/starkex-data-availability-committee/storage"
)

const (
	rootKeyPrefix      = "root:"
	cursorKey          = "cursor:next_id"
	submittedKeyPrefix = "submitted:"
)

func rootKey(batchID int64) []byte {
	return []byte(rootKeyPrefix + strconv.FormatInt(batchID, 10))
}

func submittedKey(batchID int64) []byte {
	return []byte(submittedKeyPrefix + strconv.FormatInt(batchID, 10))
}

// RootStore owns the root-pointer and cursor namespaces of spec §6: a
// mapping batch_id -> per-tree root hashes, and the cursor marking the
// smallest batch id not yet committed locally. It also persists a
// "submitted" marker ahead of the root pointer, resolving spec §9's second
// Open Question conservatively: this node does not trust the gateway's own
// durability of an accepted submission (DESIGN.md, "Open Questions
// resolved").
type RootStore struct {
	adapter    storage.Adapter
	emptyRoots map[string][]byte
}

// NewRootStore wraps adapter. emptyRoots is the bootstrap batch -1 pointer
// (SPEC_FULL.md §5.7), computed once at startup from each configured
// tree's empty-subtree table.
func NewRootStore(adapter storage.Adapter, emptyRoots map[string][]byte) *RootStore {
	return &RootStore{adapter: adapter, emptyRoots: emptyRoots}
}

// RootsAt implements applier.RootReader: batchID == -1 resolves to the
// empty-state roots, always present. A deleted (reorg-superseded) pointer
// is indistinguishable from one that was never written: both report !ok, so
// the loop resumes ingestion from that id.
func (r *RootStore) RootsAt(ctx context.Context, batchID int64) (map[string][]byte, bool, error) {
	if batchID == -1 {
		return r.emptyRoots, true, nil
	}
	raw, err := r.adapter.Get(ctx, rootKey(batchID))
	if err != nil {
		return nil, false, dacerrors.Errorf(dacerrors.Unavailable, "rootstore: get batch %d: %v", batchID, err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	roots, err := decodeRoots(raw)
	if err != nil {
		return nil, false, dacerrors.Errorf(dacerrors.Internal, "rootstore: malformed root record for batch %d: %v", batchID, err)
	}
	return roots, true, nil
}

// PutRoots records the committed roots for batchID, the final step of spec
// §4.7's commit ordering (facts -> sign -> submit -> pointer).
func (r *RootStore) PutRoots(ctx context.Context, batchID int64, roots map[string][]byte) error {
	encoded, err := encodeRoots(roots)
	if err != nil {
		return dacerrors.Errorf(dacerrors.Internal, "rootstore: encode roots for batch %d: %v", batchID, err)
	}
	if err := r.adapter.Set(ctx, rootKey(batchID), encoded); err != nil {
		return dacerrors.Errorf(dacerrors.Unavailable, "rootstore: put batch %d: %v", batchID, err)
	}
	return nil
}

// DeleteRoots discards the root pointer for batchID, used during reorg
// rewind (spec §4.7 step 2). Facts are never touched.
func (r *RootStore) DeleteRoots(ctx context.Context, batchID int64) error {
	if err := r.adapter.Set(ctx, rootKey(batchID), []byte{}); err != nil {
		return dacerrors.Errorf(dacerrors.Unavailable, "rootstore: delete batch %d: %v", batchID, err)
	}
	return nil
}

// Cursor returns the smallest batch id not yet committed, defaulting to 0 if
// never set.
func (r *RootStore) Cursor(ctx context.Context) (int64, error) {
	raw, err := r.adapter.Get(ctx, []byte(cursorKey))
	if err != nil {
		return 0, dacerrors.Errorf(dacerrors.Unavailable, "rootstore: get cursor: %v", err)
	}
	if raw == nil {
		return 0, nil
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, dacerrors.Errorf(dacerrors.Internal, "rootstore: malformed cursor value %q: %v", raw, err)
	}
	return id, nil
}

// SetCursor advances the cursor to nextID.
func (r *RootStore) SetCursor(ctx context.Context, nextID int64) error {
	if err := r.adapter.Set(ctx, []byte(cursorKey), []byte(strconv.FormatInt(nextID, 10))); err != nil {
		return dacerrors.Errorf(dacerrors.Unavailable, "rootstore: set cursor: %v", err)
	}
	return nil
}

// MarkSubmitted records that batchID's attestation was accepted by the
// gateway, ahead of the root-pointer write, per the durability policy
// above.
func (r *RootStore) MarkSubmitted(ctx context.Context, batchID int64, claimHash []byte) error {
	if err := r.adapter.Set(ctx, submittedKey(batchID), claimHash); err != nil {
		return dacerrors.Errorf(dacerrors.Unavailable, "rootstore: mark submitted batch %d: %v", batchID, err)
	}
	return nil
}

// WasSubmitted reports whether batchID already has a submitted marker
// matching claimHash, letting a restarted loop skip re-submitting an
// attestation it has already re-signed (the signature would be identical
// anyway, per spec §8's determinism property, but this avoids an
// unnecessary gateway round trip).
func (r *RootStore) WasSubmitted(ctx context.Context, batchID int64, claimHash []byte) (bool, error) {
	raw, err := r.adapter.Get(ctx, submittedKey(batchID))
	if err != nil {
		return false, dacerrors.Errorf(dacerrors.Unavailable, "rootstore: get submitted marker for batch %d: %v", batchID, err)
	}
	if raw == nil {
		return false, nil
	}
	return string(raw) == string(claimHash), nil
}

func encodeRoots(roots map[string][]byte) ([]byte, error) {
	hexRoots := make(map[string]string, len(roots))
	for name, root := range roots {
		hexRoots[name] = hex.EncodeToString(root)
	}
	return json.Marshal(hexRoots)
}

func decodeRoots(raw []byte) (map[string][]byte, error) {
	var hexRoots map[string]string
	if err := json.Unmarshal(raw, &hexRoots); err != nil {
		return nil, err
	}
	roots := make(map[string][]byte, len(hexRoots))
	for name, h := range hexRoots {
		root, err := hex.DecodeString(h)
		if err != nil {
			return nil, err
		}
		roots[name] = root
	}
	return roots, nil
}
