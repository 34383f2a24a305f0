package committee

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/starkware-libs/starkex-data-availability-committee/applier"
	"github.com/starkware-libs/starkex-data-availability-committee/batch"
	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
	"github.com/starkware-libs/starkex-data-availability-committee/gateway"
	"github.com/starkware-libs/starkex-data-availability-committee/internal/clock"
	"github.com/starkware-libs/starkex-data-availability-committee/monitoring"
	"github.com/starkware-libs/starkex-data-availability-committee/signer"
)

// metrics mirrors the role of the teacher's signingRuns/failedSigningRuns
// counters in log/operation_manager.go, renamed to this domain's events.
type metrics struct {
	batchesCommitted monitoring.Counter
	reorgsDetected   monitoring.Counter
	rootMismatches   monitoring.Counter
	gatewayRetries   monitoring.Counter
}

func newMetrics(mf monitoring.MetricFactory) *metrics {
	if mf == nil {
		mf = monitoring.InertMetricFactory{}
	}
	return &metrics{
		batchesCommitted: mf.NewCounter("batches_committed", "Number of batches committed locally"),
		reorgsDetected:   mf.NewCounter("reorgs_detected", "Number of chain reorganizations detected"),
		rootMismatches:   mf.NewCounter("root_mismatches", "Number of fatal root-mismatch events"),
		gatewayRetries:   mf.NewCounter("gateway_retries", "Number of retried gateway calls"),
	}
}

// GatewayClient is the subset of *gateway.Client the loop needs, narrowed
// so tests can substitute a fake instead of an httptest.Server, the same
// role storage.RedisClient plays for RedisAdapter.
type GatewayClient interface {
	GetBatchData(ctx context.Context, batchID int64, primaryTree string) (gateway.BatchStatus, error)
	SendSignature(ctx context.Context, batchID int64, claimHash, signature, memberKey []byte) error
	IsAlive(ctx context.Context) (bool, error)
}

// Signer is the subset of *signer.Signer the loop needs.
type Signer interface {
	Sign(batchID int64, roots []signer.RootInput) (signer.Attestation, error)
	MemberKey() []byte
}

// Loop is the committee's single-threaded cooperative state machine (spec
// §4.7), ported from the outer-for-loop/RunInterval shape of the teacher's
// log.OperationManager.OperationLoop, stripped of its mastership election
// machinery: this node runs exactly one committee instance against one
// operator (SPEC_FULL.md §5.7).
type Loop struct {
	gateway      GatewayClient
	applier      *applier.Applier
	signer       Signer
	roots        *RootStore
	profile      batch.Profile
	primaryTree  string
	pollInterval time.Duration
	clock        clock.TimeSource
	metrics      *metrics

	state State
}

// Config bundles Loop's dependencies and the handful of profile-derived
// constants it needs.
type Config struct {
	Gateway       GatewayClient
	Applier       *applier.Applier
	Signer        Signer
	Roots         *RootStore
	Profile       batch.Profile
	PollInterval  time.Duration
	Clock         clock.TimeSource
	MetricFactory monitoring.MetricFactory
}

// NewLoop builds a Loop. The primary tree (the tree whose root travels as
// next_batch_root on the wire, see gateway.Client.GetBatchData) is derived
// from Profile.
func NewLoop(cfg Config) *Loop {
	ts := cfg.Clock
	if ts == nil {
		ts = clock.System
	}
	primary := batch.TreeVault
	if cfg.Profile == batch.Perpetual {
		primary = batch.TreePosition
	}
	return &Loop{
		gateway:      cfg.Gateway,
		applier:      cfg.Applier,
		signer:       cfg.Signer,
		roots:        cfg.Roots,
		profile:      cfg.Profile,
		primaryTree:  primary,
		pollInterval: cfg.PollInterval,
		clock:        ts,
		metrics:      newMetrics(cfg.MetricFactory),
		state:        Idle,
	}
}

// State returns the loop's current state, for liveness/diagnostics.
func (l *Loop) State() State {
	return l.state
}

// Healthy reports whether the loop is in a non-terminal state and the
// gateway it depends on answers is_alive, the readiness surface
// SPEC_FULL.md §5.5 describes for `gateway.Client.IsAlive`.
func (l *Loop) Healthy(ctx context.Context) bool {
	if l.state == Fatal {
		return false
	}
	alive, err := l.gateway.IsAlive(ctx)
	return err == nil && alive
}

// Run blocks until ctx is canceled or a FATAL transition occurs. A FATAL
// transition returns a non-nil error; cmd/committee maps that to a
// non-zero exit code per spec §6.
func (l *Loop) Run(ctx context.Context) error {
	glog.Infof("committee: loop starting")
	for {
		if ctx.Err() != nil {
			l.state = Idle
			glog.Infof("committee: loop shutting down cleanly")
			return nil
		}

		progressed, err := l.runOnce(ctx)
		if err != nil {
			if dacerrors.IsFatal(err) {
				l.state = Fatal
				glog.Errorf("committee: fatal error, stopping: %v", err)
				return err
			}
			glog.Warningf("committee: transient cycle error, will retry: %v", err)
		}

		if progressed {
			continue
		}
		if sleepErr := clock.SleepSource(ctx, l.pollInterval, l.clock); sleepErr != nil {
			l.state = Idle
			return nil
		}
	}
}

// runOnce performs at most one batch's worth of the main cycle (spec §4.7).
// progressed reports whether a batch was committed or a rewind occurred,
// so Run can skip the poll-interval sleep and move on immediately.
func (l *Loop) runOnce(ctx context.Context) (progressed bool, err error) {
	l.state = Idle
	cursor, err := l.roots.Cursor(ctx)
	if err != nil {
		return false, err
	}

	l.state = Fetching
	status, err := l.gateway.GetBatchData(ctx, cursor, l.primaryTree)
	if err != nil {
		return false, err
	}
	if status.Kind == gateway.NotYetAvailable {
		return false, nil
	}
	desc := status.Descriptor

	expectedRef := cursor - 1
	if cursor == 0 {
		expectedRef = -1
	}
	if desc.ReferenceBatchID != expectedRef {
		l.state = ReorgRewind
		l.metrics.reorgsDetected.Inc()
		glog.Warningf("committee: reorg detected at batch %d: expected reference %d, gateway declares %d", cursor, expectedRef, desc.ReferenceBatchID)
		if err := l.rewindTo(ctx, desc.ReferenceBatchID); err != nil {
			return false, err
		}
		return true, nil
	}

	l.state = Applying
	computedRoots, err := l.applier.Apply(ctx, *desc)
	if err != nil {
		switch dacerrors.GetCode(err) {
		case dacerrors.FailedPrecondition:
			l.metrics.rootMismatches.Inc()
		case dacerrors.InvalidArgument:
			// An invalid delta (out-of-range index, oversize) is fatal, the
			// same policy as a root mismatch.
			return false, dacerrors.Errorf(dacerrors.FailedPrecondition, "committee: batch %d rejected: %v", desc.BatchID, err)
		}
		return false, err
	}

	l.state = Signing
	att, err := l.signer.Sign(desc.BatchID, l.rootInputs(computedRoots))
	if err != nil {
		return false, err
	}

	alreadySubmitted, err := l.roots.WasSubmitted(ctx, desc.BatchID, att.ClaimHash)
	if err != nil {
		return false, err
	}
	if !alreadySubmitted {
		l.state = Submitting
		sendErr := l.gateway.SendSignature(ctx, desc.BatchID, att.ClaimHash, att.Signature, l.signer.MemberKey())
		if sendErr != nil {
			if dacerrors.GetCode(sendErr) == dacerrors.InvalidArgument {
				glog.Warningf("committee: batch %d rejected by gateway, re-fetching: %v", desc.BatchID, sendErr)
				return false, nil
			}
			return false, sendErr
		}
		if err := l.roots.MarkSubmitted(ctx, desc.BatchID, att.ClaimHash); err != nil {
			return false, err
		}
	}

	if err := l.roots.PutRoots(ctx, desc.BatchID, computedRoots); err != nil {
		return false, err
	}
	if err := l.roots.SetCursor(ctx, desc.BatchID+1); err != nil {
		return false, err
	}
	l.state = Committed
	l.metrics.batchesCommitted.Inc()
	glog.Infof("committee: committed batch %d", desc.BatchID)
	return true, nil
}

// rewindTo discards root pointers for every batch strictly after target,
// without deleting any facts, and moves the cursor back to target+1 (spec
// §4.7 step 2). A subsequent call to runOnce re-fetches from there; if that
// fetch's own reference still disagrees, rewindTo runs again.
func (l *Loop) rewindTo(ctx context.Context, target int64) error {
	cursor, err := l.roots.Cursor(ctx)
	if err != nil {
		return err
	}
	for id := cursor - 1; id > target; id-- {
		if err := l.roots.DeleteRoots(ctx, id); err != nil {
			return err
		}
	}
	return l.roots.SetCursor(ctx, target+1)
}

// rootInputs builds the signer's input set in profile-declared order,
// excluding batch.TreeRollupVault (SPEC_FULL.md §4), with each root's tree
// height attached so the signed message matches
// original_source/committee.py's compute_hash_availability_claim
// (SPEC_FULL.md §5.6).
func (l *Loop) rootInputs(computedRoots map[string][]byte) []signer.RootInput {
	names := batch.SignedTrees(l.profile)
	out := make([]signer.RootInput, 0, len(names))
	for _, name := range names {
		out = append(out, signer.RootInput{
			Name:   name,
			Root:   computedRoots[name],
			Height: l.applier.TreeHeight(name),
		})
	}
	return out
}
