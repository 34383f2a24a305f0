package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/stretchr/testify/require"

	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
)

// stubRedisClient is a minimal RedisClient fake driven by canned responses,
// so RedisAdapter's retry/backoff logic can be exercised without a real
// Redis server.
type stubRedisClient struct {
	getCalls int
	getErrs  []error // consumed in order; once exhausted, Get returns getVal
	getVal   string

	evalResult int64
	evalErr    error
}

func (s *stubRedisClient) Get(key string) *redis.StringCmd {
	var err error
	if s.getCalls < len(s.getErrs) {
		err = s.getErrs[s.getCalls]
	}
	s.getCalls++
	if err != nil {
		return redis.NewStringResult("", err)
	}
	return redis.NewStringResult(s.getVal, nil)
}

func (s *stubRedisClient) MGet(keys ...string) *redis.SliceCmd {
	return redis.NewSliceResult(nil, nil)
}

func (s *stubRedisClient) Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (s *stubRedisClient) MSet(pairs ...interface{}) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (s *stubRedisClient) Eval(script string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(s.evalResult, s.evalErr)
}

func fastBackoff(a *RedisAdapter) {
	a.backoff.Min = time.Millisecond
	a.backoff.Max = time.Millisecond
}

func TestRedisAdapterGetRetriesTransientThenSucceeds(t *testing.T) {
	client := &stubRedisClient{
		getErrs: []error{errors.New("connection reset"), errors.New("timeout")},
		getVal:  "hello",
	}
	adapter := NewRedisAdapter(client)
	fastBackoff(adapter)

	v, err := adapter.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)
	require.Equal(t, 3, client.getCalls)
}

func TestRedisAdapterGetMissingKeyReturnsNilNoError(t *testing.T) {
	client := &stubRedisClient{getErrs: []error{redis.Nil}}
	adapter := NewRedisAdapter(client)
	fastBackoff(adapter)

	v, err := adapter.Get(context.Background(), []byte("missing"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRedisAdapterExhaustsRetriesAndSurfacesUnavailable(t *testing.T) {
	client := &stubRedisClient{
		getErrs: []error{
			errors.New("e1"), errors.New("e2"), errors.New("e3"),
			errors.New("e4"), errors.New("e5"), errors.New("e6"),
		},
	}
	adapter := NewRedisAdapter(client)
	fastBackoff(adapter)

	_, err := adapter.Get(context.Background(), []byte("k"))
	require.Error(t, err)
	require.Equal(t, dacerrors.Unavailable, dacerrors.GetCode(err))
}

func TestRedisAdapterCASSet(t *testing.T) {
	client := &stubRedisClient{evalResult: 1}
	adapter := NewRedisAdapter(client)
	fastBackoff(adapter)

	swapped, err := adapter.CASSet(context.Background(), []byte("k"), nil, []byte("v"))
	require.NoError(t, err)
	require.True(t, swapped)
}

func TestRedisAdapterCASSetLosesRace(t *testing.T) {
	client := &stubRedisClient{evalResult: 0}
	adapter := NewRedisAdapter(client)
	fastBackoff(adapter)

	swapped, err := adapter.CASSet(context.Background(), []byte("k"), []byte("expected"), []byte("v"))
	require.NoError(t, err)
	require.False(t, swapped)
}
