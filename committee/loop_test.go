package committee

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/starkware-libs/starkex-data-availability-committee/applier"
	"github.com/starkware-libs/starkex-data-availability-committee/batch"
	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
	"github.com/starkware-libs/starkex-data-availability-committee/facts"
	"github.com/starkware-libs/starkex-data-availability-committee/gateway"
	"github.com/starkware-libs/starkex-data-availability-committee/internal/clock"
	"github.com/starkware-libs/starkex-data-availability-committee/merkle"
	"github.com/starkware-libs/starkex-data-availability-committee/signer"
	"github.com/starkware-libs/starkex-data-availability-committee/storage"
)

const testLoopHeight = 4

// fakeGateway is an in-memory stand-in for the Availability Gateway, driven
// entirely by canned responses so loop tests never touch the network.
type fakeGateway struct {
	batches        map[int64]*batch.Descriptor
	sendErrOnce    map[int64][]error // consumed in order per batch id
	sendCalls      map[int64]int
	lastSentClaims map[int64][]byte
	alive          bool
	aliveErr       error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		batches:        map[int64]*batch.Descriptor{},
		sendErrOnce:    map[int64][]error{},
		sendCalls:      map[int64]int{},
		lastSentClaims: map[int64][]byte{},
		alive:          true,
	}
}

func (f *fakeGateway) IsAlive(ctx context.Context) (bool, error) {
	return f.alive, f.aliveErr
}

func (f *fakeGateway) GetBatchData(ctx context.Context, batchID int64, primaryTree string) (gateway.BatchStatus, error) {
	desc, ok := f.batches[batchID]
	if !ok {
		return gateway.BatchStatus{Kind: gateway.NotYetAvailable}, nil
	}
	return gateway.BatchStatus{Kind: gateway.FreshHead, Descriptor: desc}, nil
}

func (f *fakeGateway) SendSignature(ctx context.Context, batchID int64, claimHash, signature, memberKey []byte) error {
	f.sendCalls[batchID]++
	if errs := f.sendErrOnce[batchID]; len(errs) > 0 {
		err := errs[0]
		f.sendErrOnce[batchID] = errs[1:]
		return err
	}
	f.lastSentClaims[batchID] = append([]byte{}, claimHash...)
	return nil
}

type testHarness struct {
	loop  *Loop
	roots *RootStore
	gw    *fakeGateway
	trees map[string]*merkle.Tree
}

func newTestHarnessSimple(t *testing.T) *testHarness {
	return newTestHarnessWithClock(t, time.Millisecond, nil)
}

// newTestHarnessWithClock parameterizes the poll interval and time source so
// tests can drive the loop's sleep-and-resume cycle deterministically with a
// clock.FakeTimeSource instead of real sleeps.
func newTestHarnessWithClock(t *testing.T, pollInterval time.Duration, ts clock.TimeSource) *testHarness {
	emptyLeaf := merkle.Hasher{}.HashLeaf(nil)
	trees := map[string]*merkle.Tree{
		batch.TreeVault: merkle.New(testLoopHeight, emptyLeaf),
		batch.TreeOrder: merkle.New(testLoopHeight, emptyLeaf),
	}
	store := facts.New(storage.NewMemoryAdapter(), facts.NewCache(0))
	roots := NewRootStore(storage.NewMemoryAdapter(), EmptyRoots(trees))
	a := applier.New(batch.StarkEx, trees, store, roots, applier.Options{ValidateOrders: true})

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := signer.Load(hex.EncodeToString(crypto.FromECDSA(key)))
	require.NoError(t, err)

	gw := newFakeGateway()

	loop := NewLoop(Config{
		Gateway:      gw,
		Applier:      a,
		Signer:       sig,
		Roots:        roots,
		Profile:      batch.StarkEx,
		PollInterval: pollInterval,
		Clock:        ts,
	})

	return &testHarness{loop: loop, roots: roots, gw: gw, trees: trees}
}

func TestRunOnceEmptyBatchSignsAndCommits(t *testing.T) {
	h := newTestHarnessSimple(t)
	empty := EmptyRoots(h.trees)

	h.gw.batches[0] = &batch.Descriptor{
		BatchID:           0,
		ReferenceBatchID:  -1,
		DeclaredPrevRoots: empty,
		DeclaredRoots:     empty,
	}

	progressed, err := h.loop.runOnce(context.Background())
	require.NoError(t, err)
	require.True(t, progressed)
	require.Equal(t, Committed, h.loop.State())
	require.Equal(t, 1, h.gw.sendCalls[0])

	cursor, err := h.roots.Cursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), cursor)
}

func TestRunOnceNotYetAvailableDoesNotProgress(t *testing.T) {
	h := newTestHarnessSimple(t)
	progressed, err := h.loop.runOnce(context.Background())
	require.NoError(t, err)
	require.False(t, progressed)
}

func TestRunOnceRootMismatchIsFatal(t *testing.T) {
	h := newTestHarnessSimple(t)
	empty := EmptyRoots(h.trees)

	h.gw.batches[0] = &batch.Descriptor{
		BatchID:           0,
		ReferenceBatchID:  -1,
		DeclaredPrevRoots: empty,
		DeclaredRoots: map[string][]byte{
			batch.TreeVault: []byte("deliberately-wrong-root-value-xxxxx"),
			batch.TreeOrder: empty[batch.TreeOrder],
		},
	}

	_, err := h.loop.runOnce(context.Background())
	require.Error(t, err)
	require.True(t, dacerrors.IsFatal(err))
}

func TestRunOnceDetectsReorgAndRewinds(t *testing.T) {
	h := newTestHarnessSimple(t)
	empty := EmptyRoots(h.trees)

	// Commit batch 0 normally.
	h.gw.batches[0] = &batch.Descriptor{
		BatchID:           0,
		ReferenceBatchID:  -1,
		DeclaredPrevRoots: empty,
		DeclaredRoots:     empty,
	}
	progressed, err := h.loop.runOnce(context.Background())
	require.NoError(t, err)
	require.True(t, progressed)

	// Batch 1 now arrives claiming reference -1 instead of 0: a reorg.
	h.gw.batches[1] = &batch.Descriptor{
		BatchID:           1,
		ReferenceBatchID:  -1,
		DeclaredPrevRoots: empty,
		DeclaredRoots:     empty,
	}
	progressed, err = h.loop.runOnce(context.Background())
	require.NoError(t, err)
	require.True(t, progressed)
	require.Equal(t, ReorgRewind, h.loop.State())

	cursor, err := h.roots.Cursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), cursor)

	_, ok, err := h.roots.RootsAt(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, ok, "batch 0's pointer must be discarded on rewind")
}

func TestRunOnceRetriesSubmissionAndCommitsExactlyOnce(t *testing.T) {
	h := newTestHarnessSimple(t)
	empty := EmptyRoots(h.trees)
	h.gw.batches[0] = &batch.Descriptor{
		BatchID:           0,
		ReferenceBatchID:  -1,
		DeclaredPrevRoots: empty,
		DeclaredRoots:     empty,
	}
	h.gw.sendErrOnce[0] = []error{
		dacerrors.New(dacerrors.Unavailable, "503"),
		dacerrors.New(dacerrors.Unavailable, "503"),
	}

	// First two cycles fail to submit with a transient error; each is
	// reported up as non-fatal, so the outer Run loop retries it after the
	// poll interval (spec §7's transient class). The third succeeds.
	_, err := h.loop.runOnce(context.Background())
	require.Error(t, err)
	require.False(t, dacerrors.IsFatal(err))
	_, err = h.loop.runOnce(context.Background())
	require.Error(t, err)
	require.False(t, dacerrors.IsFatal(err))
	progressed, err := h.loop.runOnce(context.Background())
	require.NoError(t, err)
	require.True(t, progressed)

	require.Equal(t, 3, h.gw.sendCalls[0])
	cursor, err := h.roots.Cursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), cursor)
}

func TestRunOnce4xxOnSubmitReFetchesWithoutCommitting(t *testing.T) {
	h := newTestHarnessSimple(t)
	empty := EmptyRoots(h.trees)
	h.gw.batches[0] = &batch.Descriptor{
		BatchID:           0,
		ReferenceBatchID:  -1,
		DeclaredPrevRoots: empty,
		DeclaredRoots:     empty,
	}
	h.gw.sendErrOnce[0] = []error{dacerrors.New(dacerrors.InvalidArgument, "unknown batch")}

	progressed, err := h.loop.runOnce(context.Background())
	require.NoError(t, err)
	require.False(t, progressed)

	cursor, err := h.roots.Cursor(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), cursor)
}

func TestRunLoopStopsOnContextCancellation(t *testing.T) {
	h := newTestHarnessSimple(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.loop.Run(ctx)
	require.NoError(t, err)
}

func TestHealthyReflectsGatewayLiveness(t *testing.T) {
	h := newTestHarnessSimple(t)
	require.True(t, h.loop.Healthy(context.Background()))

	h.gw.alive = false
	require.False(t, h.loop.Healthy(context.Background()))

	h.gw.alive = true
	h.gw.aliveErr = dacerrors.New(dacerrors.Unavailable, "gateway unreachable")
	require.False(t, h.loop.Healthy(context.Background()))
}

func TestRunWaitsForFakeClockBeforeNextPoll(t *testing.T) {
	fake := clock.NewFake(time.Now())
	h := newTestHarnessWithClock(t, 10*time.Second, fake)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.loop.Run(ctx) }()

	// Give Run time to find no batch available and enter the fake-timer
	// sleep for the poll interval.
	require.Eventually(t, func() bool {
		return h.loop.State() == Fetching
	}, time.Second, time.Millisecond)

	empty := EmptyRoots(h.trees)
	h.gw.batches[0] = &batch.Descriptor{
		BatchID:           0,
		ReferenceBatchID:  -1,
		DeclaredPrevRoots: empty,
		DeclaredRoots:     empty,
	}

	// Advancing by less than the poll interval must not wake the loop.
	fake.Advance(1 * time.Second)
	require.Never(t, func() bool {
		cursor, err := h.roots.Cursor(context.Background())
		return err == nil && cursor == 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	// Advancing past the poll interval fires the fake timer and the loop
	// resumes, picking up the now-available batch.
	fake.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		cursor, err := h.roots.Cursor(context.Background())
		return err == nil && cursor == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
}

func TestHealthyFalseAfterFatalError(t *testing.T) {
	h := newTestHarnessSimple(t)
	empty := EmptyRoots(h.trees)
	h.gw.batches[0] = &batch.Descriptor{
		BatchID:           0,
		ReferenceBatchID:  -1,
		DeclaredPrevRoots: empty,
		DeclaredRoots: map[string][]byte{
			batch.TreeVault: []byte("deliberately-wrong-root-value-xxxxx"),
			batch.TreeOrder: empty[batch.TreeOrder],
		},
	}

	err := h.loop.Run(context.Background())
	require.Error(t, err)
	require.False(t, h.loop.Healthy(context.Background()))
}
