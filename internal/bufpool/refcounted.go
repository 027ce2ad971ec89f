package bufpool

import (
	"errors"
	"sync/atomic"
)

// ErrUseAfterRelease is returned by any access on a buffer whose refcount
// has already reached zero and been returned to the pool.
var ErrUseAfterRelease = errors.New("bufpool: use after release")

// RefCountedBuffer is a shared-ownership byte buffer rented from a Pool.
// The buffer starts with refcount 1 (the creator's reference). AddRef
// increments it; Release decrements it and, on reaching zero, returns
// the backing storage to the pool exactly once. Buffers never reference
// each other, so there is no cycle to worry about during release.
type RefCountedBuffer struct {
	pool     *Pool
	data     []byte // full capacity backing slice
	length   atomic.Int64
	refcount atomic.Int32
	released atomic.Bool
}

// Rent allocates a RefCountedBuffer of exactly length bytes (capacity
// may be larger, per the pool's bucket size) from p, with an initial
// refcount of 1.
func Rent(p *Pool, length int) *RefCountedBuffer {
	if p == nil {
		p = Global()
	}
	buf := p.rawRent(length)
	rb := &RefCountedBuffer{pool: p, data: buf}
	rb.length.Store(int64(length))
	rb.refcount.Store(1)
	return rb
}

// Bytes returns the logical-length view of the buffer. Panics-free:
// callers must check IsReleased first if they hold a reference that
// might race a concurrent final Release (the normal usage pattern
// guarantees the caller owns a live ref while reading).
func (b *RefCountedBuffer) Bytes() ([]byte, error) {
	if b.released.Load() {
		return nil, ErrUseAfterRelease
	}
	return b.data[:b.length.Load()], nil
}

// Len returns the current logical length.
func (b *RefCountedBuffer) Len() int {
	return int(b.length.Load())
}

// Cap returns the backing allocation's capacity.
func (b *RefCountedBuffer) Cap() int {
	return cap(b.data)
}

// SetLogicalLength shrinks (or restores) the visible length of the
// buffer. n must be within [0, Cap()]; the buffer is never grown
// beyond the capacity it was rented with.
func (b *RefCountedBuffer) SetLogicalLength(n int) error {
	if n < 0 || n > cap(b.data) {
		return errors.New("bufpool: logical length out of range")
	}
	if b.released.Load() {
		return ErrUseAfterRelease
	}
	b.length.Store(int64(n))
	return nil
}

// AddRef increments the refcount. It is an error to add a reference to
// an already-released buffer — that indicates the caller held a stale
// reference past its owner's final Release.
func (b *RefCountedBuffer) AddRef() error {
	if b.released.Load() {
		return ErrUseAfterRelease
	}
	b.refcount.Add(1)
	return nil
}

// Release drops one reference. When the refcount reaches zero, the
// backing storage is returned to the pool exactly once; subsequent
// Release calls on an already-zeroed buffer are no-ops guarded by the
// released flag, not a double free.
func (b *RefCountedBuffer) Release() {
	if b.refcount.Add(-1) != 0 {
		return
	}
	if b.released.CompareAndSwap(false, true) {
		b.pool.rawReturn(b.data)
	}
}

// IsReleased reports whether the buffer's storage has already been
// returned to the pool.
func (b *RefCountedBuffer) IsReleased() bool {
	return b.released.Load()
}
