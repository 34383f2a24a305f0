package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryAdapterGetMissingReturnsNil(t *testing.T) {
	m := NewMemoryAdapter()
	v, err := m.Get(context.Background(), []byte("missing"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestMemoryAdapterSetThenGet(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, []byte("k"), []byte("v")))

	v, err := m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestMemoryAdapterGetReturnsIndependentCopy(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, []byte("k"), []byte("original")))

	v, err := m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	v[0] = 'X'

	v2, err := m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), v2)
}

func TestMemoryAdapterMultiSetThenMultiGet(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	kv := map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}
	require.NoError(t, m.MultiSet(ctx, kv))

	got, err := m.MultiGet(ctx, [][]byte{[]byte("a"), []byte("b"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got["a"])
	require.Equal(t, []byte("2"), got["b"])
	require.NotContains(t, got, "missing")
}

func TestMemoryAdapterCASSetRequiresNonexistence(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()

	ok, err := m.CASSet(ctx, []byte("k"), nil, []byte("v1"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.CASSet(ctx, []byte("k"), nil, []byte("v2"))
	require.NoError(t, err)
	require.False(t, ok, "CAS with expected=nil must fail once the key exists")
}

func TestMemoryAdapterCASSetSwapsOnMatch(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, []byte("k"), []byte("v1")))

	ok, err := m.CASSet(ctx, []byte("k"), []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	require.True(t, ok)

	v, err := m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

func TestMemoryAdapterCASSetRejectsMismatch(t *testing.T) {
	m := NewMemoryAdapter()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, []byte("k"), []byte("v1")))

	ok, err := m.CASSet(ctx, []byte("k"), []byte("wrong"), []byte("v2"))
	require.NoError(t, err)
	require.False(t, ok)

	v, err := m.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}
