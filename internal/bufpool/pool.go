// Package bufpool implements the tiered byte-buffer pool backing every
// pixel and JPEG allocation on the presenter side: fixed size-class
// buckets for mid-sized allocations, a bounded free list for anything
// larger, and a floor below which allocations are never pooled at all.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// lohThresholdDefault mirrors the .NET large-object-heap threshold this
// design is modeled on: allocations below it churn through the normal
// allocator fine and aren't worth pooling.
const lohThresholdDefault = 85 * 1024

// DefaultBucketSizes and DefaultBucketCaps are the suggested bucket
// layout from the design: 128 KiB / 512 KiB / 2 MiB / 8 MiB with
// retained-item caps of 16 / 8 / 8 / 4.
var (
	DefaultBucketSizes = []int{128 * 1024, 512 * 1024, 2 * 1024 * 1024, 8 * 1024 * 1024}
	DefaultBucketCaps  = []int{16, 8, 8, 4}
)

const defaultHugeCap = 3

type bucket struct {
	size int
	cap  int
	free chan []byte
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Rents             uint64
	Hits              uint64
	Misses            uint64
	Discards          uint64
	CurrentRetained   int64
	PeakRetained      int64
}

// Pool is a tiered free-list allocator for large byte buffers. It is
// safe for concurrent use and intended to be a single process-wide
// singleton injected into grabbers and encoders at startup.
type Pool struct {
	buckets       []*bucket
	hugeFree      chan []byte
	lohThreshold  int

	rents    atomic.Uint64
	hits     atomic.Uint64
	misses   atomic.Uint64
	discards atomic.Uint64
	retained atomic.Int64
	peak     atomic.Int64
}

// Config describes the bucket layout for a new Pool.
type Config struct {
	BucketSizes  []int // ascending
	BucketCaps   []int // parallel to BucketSizes
	HugeCap      int
	LOHThreshold int
}

// DefaultConfig returns the design's suggested bucket layout.
func DefaultConfig() Config {
	return Config{
		BucketSizes:  append([]int(nil), DefaultBucketSizes...),
		BucketCaps:   append([]int(nil), DefaultBucketCaps...),
		HugeCap:      defaultHugeCap,
		LOHThreshold: lohThresholdDefault,
	}
}

// New builds a Pool from cfg. Mismatched slice lengths fall back to
// DefaultConfig's layout.
func New(cfg Config) *Pool {
	if len(cfg.BucketSizes) != len(cfg.BucketCaps) || len(cfg.BucketSizes) == 0 {
		cfg = DefaultConfig()
	}
	if cfg.HugeCap <= 0 {
		cfg.HugeCap = defaultHugeCap
	}
	if cfg.LOHThreshold <= 0 {
		cfg.LOHThreshold = lohThresholdDefault
	}

	p := &Pool{
		lohThreshold: cfg.LOHThreshold,
		hugeFree:     make(chan []byte, cfg.HugeCap),
	}
	for i, size := range cfg.BucketSizes {
		p.buckets = append(p.buckets, &bucket{
			size: size,
			cap:  cfg.BucketCaps[i],
			free: make(chan []byte, cfg.BucketCaps[i]),
		})
	}
	return p
}

// rawRent returns a []byte of at least minLen bytes, bypassing the
// refcount wrapper. Exposed to RefCountedBuffer via package-internal
// calls only; external callers use Rent, which wraps the result.
func (p *Pool) rawRent(minLen int) []byte {
	p.rents.Add(1)

	if minLen < p.lohThreshold {
		p.misses.Add(1)
		return make([]byte, minLen)
	}

	if b := p.bucketFor(minLen); b != nil {
		select {
		case buf := <-b.free:
			p.hits.Add(1)
			p.retained.Add(-int64(cap(buf)))
			return buf[:minLen]
		default:
			p.misses.Add(1)
			return make([]byte, minLen, b.size)
		}
	}

	// Larger than the biggest bucket: served from the huge free-list.
	select {
	case buf := <-p.hugeFree:
		if cap(buf) >= minLen {
			p.hits.Add(1)
			p.retained.Add(-int64(cap(buf)))
			return buf[:minLen]
		}
		// Too small to satisfy this request; drop it and allocate fresh.
		p.retained.Add(-int64(cap(buf)))
	default:
	}
	p.misses.Add(1)
	return make([]byte, minLen)
}

// rawReturn releases buf back to the pool, or to the OS if it doesn't
// fit any retention policy.
func (p *Pool) rawReturn(buf []byte) {
	c := cap(buf)
	if c < p.lohThreshold {
		return // small buffers are never pooled
	}

	if b := p.bucketFor(c); b != nil && c == b.size {
		select {
		case b.free <- buf[:0:c]:
			p.trackRetain(int64(c))
			return
		default:
			p.discards.Add(1)
			return
		}
	}

	select {
	case p.hugeFree <- buf[:0:c]:
		p.trackRetain(int64(c))
	default:
		p.discards.Add(1)
	}
}

func (p *Pool) trackRetain(delta int64) {
	cur := p.retained.Add(delta)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			return
		}
	}
}

// bucketFor returns the smallest bucket able to satisfy minLen, or nil
// if minLen exceeds every bucket's size.
func (p *Pool) bucketFor(minLen int) *bucket {
	for _, b := range p.buckets {
		if minLen <= b.size {
			return b
		}
	}
	return nil
}

// Stats returns a snapshot of pool activity counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Rents:           p.rents.Load(),
		Hits:            p.hits.Load(),
		Misses:          p.misses.Load(),
		Discards:        p.discards.Load(),
		CurrentRetained: p.retained.Load(),
		PeakRetained:    p.peak.Load(),
	}
}

// global is the process-wide singleton pool, lazily created with
// DefaultConfig on first use. Production code should call SetGlobal
// at startup with a configured Pool; tests may use Global() directly.
var (
	globalOnce sync.Once
	globalPool atomic.Pointer[Pool]
)

// Global returns the process-wide pool, creating it with DefaultConfig
// on first call if SetGlobal was never invoked.
func Global() *Pool {
	globalOnce.Do(func() {
		if globalPool.Load() == nil {
			globalPool.Store(New(DefaultConfig()))
		}
	})
	return globalPool.Load()
}

// SetGlobal installs p as the process-wide pool. Call once at startup,
// before any capture/encode goroutines run.
func SetGlobal(p *Pool) {
	globalPool.Store(p)
}
