// Package facts implements the content-addressed Merkle fact store (spec
// §4.2): a thin, deduplicating layer over the storage adapter, with an
// optional read-through LRU cache.
package facts

import (
	"context"
	"encoding/hex"

	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
	"github.com/starkware-libs/starkex-data-availability-committee/storage"
)

// keyPrefix namespaces fact keys within the shared KV keyspace, per spec
// §6's literal key format "fact:<hex-hash>".
const keyPrefix = "fact:"

func factKey(hash []byte) []byte {
	return []byte(keyPrefix + hex.EncodeToString(hash))
}

// Store is the Merkle fact store. It owns no tree logic; it only persists
// and retrieves content-addressed blobs, trusting the caller (merkle.Tree
// via applier.Applier) to have already decided what a fact means.
type Store struct {
	adapter storage.Adapter
	cache   *Cache
}

// New creates a Store backed by adapter, with an optional cache. Passing a
// nil cache disables caching; every lookup goes to storage.
func New(adapter storage.Adapter, cache *Cache) *Store {
	return &Store{adapter: adapter, cache: cache}
}

// PutFacts durably writes every (hash -> content) pair in facts before
// returning, per spec §4.2/§4.3 step 5: the caller must not treat the new
// root as valid until this call succeeds. Writes are idempotent: two
// batches whose deltas touch the same subtree end up writing the same
// bytes under the same key.
func (s *Store) PutFacts(ctx context.Context, newFacts map[string][]byte) error {
	if len(newFacts) == 0 {
		return nil
	}
	kv := make(map[string][]byte, len(newFacts))
	for hash, value := range newFacts {
		kv[string(factKey([]byte(hash)))] = value
	}
	if err := s.adapter.MultiSet(ctx, kv); err != nil {
		return dacerrors.Errorf(dacerrors.Unavailable, "put facts: %v", err)
	}
	if s.cache != nil {
		for hash, value := range newFacts {
			s.cache.Add(hash, value)
		}
	}
	return nil
}

// GetNode returns the two children of the internal node fact with the
// given hash. height is a cache-sizing hint only; it does not affect
// correctness.
func (s *Store) GetNode(ctx context.Context, hash []byte, height int) (left, right []byte, err error) {
	value, err := s.get(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	n := len(value) / 2
	if len(value) != 2*n || n == 0 {
		return nil, nil, dacerrors.Errorf(dacerrors.Internal, "malformed internal node fact %x: length %d", hash, len(value))
	}
	return value[:n], value[n:], nil
}

// GetLeaf returns the serialized leaf value stored under hash.
func (s *Store) GetLeaf(ctx context.Context, hash []byte) ([]byte, error) {
	return s.get(ctx, hash)
}

func (s *Store) get(ctx context.Context, hash []byte) ([]byte, error) {
	if s.cache != nil {
		if value, ok := s.cache.Get(string(hash)); ok {
			return value, nil
		}
	}
	value, err := s.adapter.Get(ctx, factKey(hash))
	if err != nil {
		return nil, dacerrors.Errorf(dacerrors.Unavailable, "get fact %x: %v", hash, err)
	}
	if value == nil {
		return nil, dacerrors.Errorf(dacerrors.NotFound, "fact %x not found", hash)
	}
	if s.cache != nil {
		s.cache.Add(string(hash), value)
	}
	return value, nil
}
