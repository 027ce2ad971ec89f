package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRentBelowLOHThresholdIsNeverPooled(t *testing.T) {
	p := New(DefaultConfig())
	buf := p.rawRent(1024)
	require.Len(t, buf, 1024)

	before := p.Stats()
	p.rawReturn(buf)
	after := p.Stats()
	require.Equal(t, before.CurrentRetained, after.CurrentRetained, "small buffer return must be a no-op")
}

func TestRentExactBucketSizeHitsAfterReturn(t *testing.T) {
	p := New(DefaultConfig())
	buf := p.rawRent(128 * 1024)
	p.rawReturn(buf)

	stats := p.Stats()
	require.Equal(t, int64(128*1024), stats.CurrentRetained)

	buf2 := p.rawRent(100 * 1024) // fits the 128 KiB bucket
	stats = p.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Len(t, buf2, 100*1024)
}

func TestReturnOverCapIncrementsDiscards(t *testing.T) {
	cfg := Config{
		BucketSizes: []int{128 * 1024},
		BucketCaps:  []int{1},
		HugeCap:     1,
	}
	p := New(cfg)

	a := p.rawRent(128 * 1024)
	b := p.rawRent(128 * 1024)
	p.rawReturn(a) // fills the 1-slot bucket
	p.rawReturn(b) // bucket full: discard

	stats := p.Stats()
	require.Equal(t, uint64(1), stats.Discards)
}

func TestHugeAllocationUsesHugeFreeList(t *testing.T) {
	p := New(DefaultConfig())
	huge := p.rawRent(16 * 1024 * 1024) // bigger than the 8 MiB bucket
	require.Len(t, huge, 16*1024*1024)
	p.rawReturn(huge)

	stats := p.Stats()
	require.Equal(t, int64(16*1024*1024), stats.CurrentRetained)
}

func TestCurrentRetainedNeverExceedsPeak(t *testing.T) {
	p := New(DefaultConfig())
	var bufs [][]byte
	for i := 0; i < 20; i++ {
		bufs = append(bufs, p.rawRent(128*1024))
	}
	for _, b := range bufs {
		p.rawReturn(b)
	}
	stats := p.Stats()
	require.LessOrEqual(t, stats.CurrentRetained, stats.PeakRetained)
}

func TestRefCountedBufferReleaseExactlyOnce(t *testing.T) {
	p := New(DefaultConfig())
	rb := Rent(p, 200*1024)
	require.NoError(t, rb.AddRef()) // refcount now 2

	rb.Release() // refcount 1, not yet released
	require.False(t, rb.IsReleased())

	rb.Release() // refcount 0, released
	require.True(t, rb.IsReleased())

	_, err := rb.Bytes()
	require.ErrorIs(t, err, ErrUseAfterRelease)
}

func TestRefCountedBufferAddRefAfterReleaseFails(t *testing.T) {
	p := New(DefaultConfig())
	rb := Rent(p, 200*1024)
	rb.Release()
	require.ErrorIs(t, rb.AddRef(), ErrUseAfterRelease)
}

func TestRefCountedBufferSetLogicalLength(t *testing.T) {
	p := New(DefaultConfig())
	rb := Rent(p, 200*1024)
	require.NoError(t, rb.SetLogicalLength(100))
	b, err := rb.Bytes()
	require.NoError(t, err)
	require.Len(t, b, 100)

	require.Error(t, rb.SetLogicalLength(rb.Cap()+1))
}
