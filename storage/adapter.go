// Package storage defines the key-value capability the rest of the
// committee is built on (spec §4.1), and provides two implementations: a
// Redis-backed adapter for production, and an in-memory adapter for tests.
package storage

import "context"

// Adapter is the KV capability: GET/PUT/MSET over opaque byte keys, plus a
// compare-and-swap primitive (committee.RootStore writes the cursor and root
// pointers with plain Set). Every method is idempotent for the caller: retrying a call that
// may or may not have already landed is always safe.
type Adapter interface {
	// Get returns the value for key, or nil if it does not exist.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// MultiGet returns the values for the given keys, keyed by the string
	// form of each input key. Missing keys are simply absent from the
	// result, not represented as a nil entry.
	MultiGet(ctx context.Context, keys [][]byte) (map[string][]byte, error)
	// Set writes value under key.
	Set(ctx context.Context, key, value []byte) error
	// MultiSet writes every key in kv, keyed by the string form of the
	// intended byte key. All writes are durable before MultiSet returns.
	MultiSet(ctx context.Context, kv map[string][]byte) error
	// CASSet writes newValue under key only if the current value equals
	// expected (nil expected means "key must not currently exist").
	// Returns whether the swap took place.
	CASSet(ctx context.Context, key, expected, newValue []byte) (bool, error)
}
