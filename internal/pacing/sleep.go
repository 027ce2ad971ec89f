package pacing

import (
	"context"
	"time"
)

// spinWaitThreshold is the remaining duration below which Sleep stops
// issuing OS sleeps and busy-waits instead, to avoid timer-resolution
// overshoot on the final stretch.
const spinWaitThreshold = 30 * time.Millisecond

// Sleep waits for d or until ctx is cancelled, whichever comes first,
// combining a coarse time.Sleep for everything above
// spinWaitThreshold with a 1ms-granularity spin loop for the
// remainder. A single time.Sleep call routinely overshoots its
// deadline by more than the few milliseconds a 30-120fps pacing
// budget can spare; splitting off the last stretch trades CPU for
// timing accuracy there.
func Sleep(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)

	if coarse := d - spinWaitThreshold; coarse > 0 {
		t := time.NewTimer(coarse)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > time.Millisecond {
			time.Sleep(time.Millisecond)
		}
	}
}
