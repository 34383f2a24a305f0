package storage

import (
	"context"
	"time"

	"github.com/go-redis/redis"

	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
	"github.com/starkware-libs/starkex-data-availability-committee/internal/backoff"
)

// casScriptSrc performs an atomic compare-and-swap in one round trip, the
// same technique redistb.go uses for its token-bucket updates: a small Lua
// script run via EVAL so the read-compare-write is indivisible from
// Redis's point of view. Run directly via Eval rather than redis.Script,
// since RedisClient deliberately narrows the client to the handful of
// methods this adapter needs (Script.Run also requires EvalSha/ScriptLoad).
const casScriptSrc = `
local current = redis.call("get", KEYS[1])
local expected = ARGV[1]
if expected == "" then expected = false end
if current == expected then
	redis.call("set", KEYS[1], ARGV[2])
	return 1
end
return 0
`

// RedisClient is the subset of go-redis client methods RedisAdapter needs,
// satisfied by *redis.Client, *redis.ClusterClient, and *redis.Ring alike —
// the same narrowing trillian's quota/redis/redistb package applies so
// tests can substitute a miniredis-backed client.
type RedisClient interface {
	Get(key string) *redis.StringCmd
	MGet(keys ...string) *redis.SliceCmd
	Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	MSet(pairs ...interface{}) *redis.StatusCmd
	Eval(script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisAdapter is the production Adapter implementation, backed by a
// replicated Redis deployment per spec §1's assumption that "the
// underlying key-value storage engine ... is assumed" to be replicated
// externally.
type RedisAdapter struct {
	client  RedisClient
	backoff backoff.Backoff
}

// NewRedisAdapter wraps client with the retry policy described in spec
// §4.1: transient faults retried with capped exponential backoff, up to a
// bounded attempt count.
func NewRedisAdapter(client RedisClient) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		backoff: backoff.Backoff{
			Min:         50 * time.Millisecond,
			Max:         5 * time.Second,
			Factor:      2,
			Jitter:      true,
			MaxAttempts: 6,
		},
	}
}

func (r *RedisAdapter) retry(ctx context.Context, op func() error) error {
	b := r.backoff // copy: each call gets its own attempt counter/delta
	err := b.Retry(ctx, func() error {
		err := op()
		if err != nil && !isTransient(err) {
			// Non-transient errors (e.g. redis.Nil) must not be retried;
			// surface immediately by returning a sentinel the outer
			// Retry treats as terminal via MaxAttempts=1 semantics.
			b.MaxAttempts = 1
			return &terminal{err}
		}
		return err
	})
	if t, ok := err.(*terminal); ok {
		return t.err
	}
	if err != nil {
		return dacerrors.Errorf(dacerrors.Unavailable, "storage unavailable after retries: %v", err)
	}
	return nil
}

// terminal wraps an error that must not be retried, letting retry's loop
// exit immediately while still returning the underlying error to the
// caller, since backoff.Backoff has no notion of "stop retrying now".
type terminal struct{ err error }

func (t *terminal) Error() string { return t.err.Error() }

func isTransient(err error) bool {
	if err == redis.Nil {
		return false
	}
	if _, ok := err.(*terminal); ok {
		return false
	}
	return true
}

// Get implements Adapter.
func (r *RedisAdapter) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := r.retry(ctx, func() error {
		v, err := r.client.Get(string(key)).Bytes()
		if err == redis.Nil {
			value = nil
			return nil
		}
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// MultiGet implements Adapter.
func (r *RedisAdapter) MultiGet(ctx context.Context, keys [][]byte) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	strKeys := make([]string, len(keys))
	for i, k := range keys {
		strKeys[i] = string(k)
	}
	out := make(map[string][]byte, len(keys))
	err := r.retry(ctx, func() error {
		results, err := r.client.MGet(strKeys...).Result()
		if err != nil {
			return err
		}
		for i, res := range results {
			if res == nil {
				continue
			}
			s, ok := res.(string)
			if !ok {
				continue
			}
			out[strKeys[i]] = []byte(s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set implements Adapter.
func (r *RedisAdapter) Set(ctx context.Context, key, value []byte) error {
	return r.retry(ctx, func() error {
		return r.client.Set(string(key), value, 0).Err()
	})
}

// MultiSet implements Adapter.
func (r *RedisAdapter) MultiSet(ctx context.Context, kv map[string][]byte) error {
	if len(kv) == 0 {
		return nil
	}
	pairs := make([]interface{}, 0, 2*len(kv))
	for key, value := range kv {
		pairs = append(pairs, key, value)
	}
	return r.retry(ctx, func() error {
		return r.client.MSet(pairs...).Err()
	})
}

// CASSet implements Adapter.
func (r *RedisAdapter) CASSet(ctx context.Context, key, expected, newValue []byte) (bool, error) {
	var swapped bool
	err := r.retry(ctx, func() error {
		expectedArg := ""
		if expected != nil {
			expectedArg = string(expected)
		}
		result, err := r.client.Eval(casScriptSrc, []string{string(key)}, expectedArg, string(newValue)).Result()
		if err != nil {
			return err
		}
		n, _ := result.(int64)
		swapped = n == 1
		return nil
	})
	return swapped, err
}
