// Package pacing provides the bandwidth-sampling and frame-pacing
// utilities the capture pipeline and relay send paths use to stay
// within a target send rate and frame interval: a sliding-window byte
// rate counter, a high-precision pacing sleep built on
// golang.org/x/time/rate, and a gopsutil-backed host sampler for
// presenter-side health logging.
package pacing

import (
	"sync"
	"time"
)

// bucket is one fixed-width slice of the sliding window: the byte
// count observed during [start, start+bucketWidth).
type bucket struct {
	start time.Time
	bytes uint64
}

// BandwidthSample is a sliding-window byte-rate counter. Unlike the
// teacher's cumulative total-bytes-over-uptime average, samples older
// than the window are evicted, so Rate() reflects recent throughput
// rather than a lifetime average that a bursty start or a long-idle
// tail would otherwise skew.
type BandwidthSample struct {
	mu         sync.Mutex
	window     time.Duration
	bucketSize time.Duration
	buckets    []bucket
	now        func() time.Time
}

// NewBandwidthSample creates a sample covering the given window,
// subdivided into 10 buckets for eviction granularity.
func NewBandwidthSample(window time.Duration) *BandwidthSample {
	const subdivisions = 10
	return &BandwidthSample{
		window:     window,
		bucketSize: window / subdivisions,
		now:        time.Now,
	}
}

// Record adds n bytes observed at the current time.
func (s *BandwidthSample) Record(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	if len(s.buckets) > 0 {
		last := &s.buckets[len(s.buckets)-1]
		if now.Sub(last.start) < s.bucketSize {
			last.bytes += uint64(n)
			return
		}
	}
	s.buckets = append(s.buckets, bucket{start: now, bytes: uint64(n)})
}

// Rate returns the current bytes-per-second rate over the configured
// window, based on buckets that have not yet aged out.
func (s *BandwidthSample) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	var total uint64
	for _, b := range s.buckets {
		total += b.bytes
	}
	if total == 0 {
		return 0
	}
	return float64(total) / s.window.Seconds()
}

func (s *BandwidthSample) evictLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.buckets) && s.buckets[i].start.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.buckets = s.buckets[i:]
	}
}
