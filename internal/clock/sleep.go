package clock

import (
	"context"
	"time"
)

// SleepContext sleeps for at least d, or until ctx is done. Returns
// ctx.Err() iff ctx was done first.
func SleepContext(ctx context.Context, d time.Duration) error {
	return SleepSource(ctx, d, System)
}

// SleepSource sleeps for at least d as measured by ts, or until ctx is
// done. Returns ctx.Err() iff ctx was done first.
func SleepSource(ctx context.Context, d time.Duration, ts TimeSource) error {
	timer := ts.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
