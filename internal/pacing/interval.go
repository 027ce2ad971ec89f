package pacing

import (
	"sync"
	"time"
)

// FrameIntervalEstimator tracks the EWMA-smoothed time between
// consecutive frames, giving an achieved-FPS figure independent of
// the target FPS a pipeline is pacing toward — useful for health
// logging when capture/encode cost eats into the pacing budget.
type FrameIntervalEstimator struct {
	mu       sync.Mutex
	alpha    float64
	last     time.Time
	smoothed time.Duration
	samples  int
}

// NewFrameIntervalEstimator creates an estimator with the given EWMA
// smoothing factor (weight given to each new sample; 0.3 gives ~70%
// weight to history).
func NewFrameIntervalEstimator(alpha float64) *FrameIntervalEstimator {
	return &FrameIntervalEstimator{alpha: alpha}
}

// Observe records a frame arriving at now.
func (e *FrameIntervalEstimator) Observe(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.last.IsZero() {
		e.last = now
		return
	}

	interval := now.Sub(e.last)
	e.last = now
	e.samples++

	if e.samples == 1 {
		e.smoothed = interval
		return
	}
	e.smoothed = time.Duration(e.alpha*float64(interval) + (1-e.alpha)*float64(e.smoothed))
}

// IntervalEstimate returns the current smoothed inter-frame interval.
func (e *FrameIntervalEstimator) IntervalEstimate() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.smoothed
}

// FPSEstimate converts the smoothed interval to an achieved frames-
// per-second figure, or 0 before enough samples have been observed.
func (e *FrameIntervalEstimator) FPSEstimate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.smoothed <= 0 {
		return 0
	}
	return float64(time.Second) / float64(e.smoothed)
}
