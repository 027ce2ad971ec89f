package pacing

import (
	"context"

	"golang.org/x/time/rate"
)

// BandwidthLimiter throttles outbound bytes to a target rate using a
// token-bucket limiter, letting short bursts through (burst is a
// configurable number of bytes) while capping sustained throughput.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter creates a limiter permitting bytesPerSecond
// sustained throughput with the given burst size in bytes.
func NewBandwidthLimiter(bytesPerSecond float64, burstBytes int) *BandwidthLimiter {
	return &BandwidthLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burstBytes),
	}
}

// Wait blocks until n bytes' worth of budget is available or ctx is
// cancelled.
func (b *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	return b.limiter.WaitN(ctx, n)
}

// SetLimit retunes the sustained rate live, e.g. in response to a
// viewer-reported bandwidth estimate.
func (b *BandwidthLimiter) SetLimit(bytesPerSecond float64) {
	b.limiter.SetLimit(rate.Limit(bytesPerSecond))
}
