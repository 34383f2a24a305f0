package storage

import (
	"bytes"
	"context"
	"sync"
)

// MemoryAdapter is an in-process Adapter backed by a map, standing in for
// the real replicated KV store in tests — the same role
// google/trillian/storage/memory plays for trillian's gRPC-facing storage
// interfaces.
type MemoryAdapter struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryAdapter creates an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{data: make(map[string][]byte)}
}

// Get implements Adapter.
func (m *MemoryAdapter) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

// MultiGet implements Adapter.
func (m *MemoryAdapter) MultiGet(ctx context.Context, keys [][]byte) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := m.data[string(key)]; ok {
			out[string(key)] = append([]byte{}, v...)
		}
	}
	return out, nil
}

// Set implements Adapter.
func (m *MemoryAdapter) Set(ctx context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

// MultiSet implements Adapter.
func (m *MemoryAdapter) MultiSet(ctx context.Context, kv map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range kv {
		m.data[key] = append([]byte{}, value...)
	}
	return nil
}

// CASSet implements Adapter.
func (m *MemoryAdapter) CASSet(ctx context.Context, key, expected, newValue []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.data[string(key)]
	if expected == nil {
		if ok {
			return false, nil
		}
	} else if !ok || !bytes.Equal(current, expected) {
		return false, nil
	}
	m.data[string(key)] = append([]byte{}, newValue...)
	return true, nil
}
