package cache

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// bandwidthLimiter throttles the cache's fetch task to a global bytes/sec
// ceiling, with zero overhead when no limit is configured. Adapted from a
// desktop download manager's per-task bandwidth manager, trimmed to a
// single global limiter: this cache has no notion of per-task priority.
type bandwidthLimiter struct {
	limiter *rate.Limiter
	enabled atomic.Bool
}

func newBandwidthLimiter(bytesPerSec int) *bandwidthLimiter {
	bl := &bandwidthLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	bl.setLimit(bytesPerSec)
	return bl
}

// setLimit updates the global limit; 0 or negative means unlimited.
func (bl *bandwidthLimiter) setLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bl.enabled.Store(false)
		bl.limiter.SetLimit(rate.Inf)
		return
	}
	bl.enabled.Store(true)
	bl.limiter.SetLimit(rate.Limit(bytesPerSec))
	bl.limiter.SetBurst(bytesPerSec)
}

// waitN blocks until n bytes may be consumed under the configured limit.
// Returns immediately if no limit is set.
func (bl *bandwidthLimiter) waitN(ctx context.Context, n int) error {
	if !bl.enabled.Load() {
		return nil
	}
	for n > 0 {
		chunk := n
		if burst := bl.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if err := bl.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
