package capture

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haefele/remoteviewer/internal/screen"
)

type fakeDuplicationSource struct {
	width, height int32
	accumulated    uint32
	acquireErr     error
	fullFrame      []byte
	dirty          []screen.Rect
	dirtyOverflow  bool
	moves          []MoveRectHint
	moveOverflow   bool
	regionErr      error
	resetCalls     int
}

func (f *fakeDuplicationSource) Dimensions() (int32, int32, error) { return f.width, f.height, nil }

func (f *fakeDuplicationSource) AcquireNextFrame() (uint32, error) {
	return f.accumulated, f.acquireErr
}

func (f *fakeDuplicationSource) CaptureFullPacked() ([]byte, error) { return f.fullFrame, nil }

func (f *fakeDuplicationSource) DirtyRects(scratch []screen.Rect) (int, bool, error) {
	if f.dirtyOverflow {
		return 0, false, nil
	}
	n := copy(scratch, f.dirty)
	return n, true, nil
}

func (f *fakeDuplicationSource) MoveRects(scratch []MoveRectHint) (int, bool, error) {
	if f.moveOverflow {
		return 0, false, nil
	}
	n := copy(scratch, f.moves)
	return n, true, nil
}

func (f *fakeDuplicationSource) CaptureRegionPacked(r screen.Rect) ([]byte, error) {
	if f.regionErr != nil {
		return nil, f.regionErr
	}
	return make([]byte, r.Width()*r.Height()*4), nil
}

func (f *fakeDuplicationSource) Reset() error {
	f.resetCalls++
	return nil
}

func TestGPUGrabberZeroAccumulatedIsNoChanges(t *testing.T) {
	src := &fakeDuplicationSource{width: 64, height: 64, accumulated: 0}
	g := NewGPUGrabber(src, nil)

	result := g.Capture(screen.Display{ID: "d1"}, false)
	require.Equal(t, screen.GrabNoChanges, result.Status)
}

func TestGPUGrabberForceKeyframeCapturesFull(t *testing.T) {
	src := &fakeDuplicationSource{width: 8, height: 8, accumulated: 1, fullFrame: make([]byte, 8*8*4)}
	g := NewGPUGrabber(src, nil)

	result := g.Capture(screen.Display{ID: "d1"}, true)
	require.Equal(t, screen.GrabSuccess, result.Status)
	require.NotNil(t, result.FullFrame)
	result.Release()
}

func TestGPUGrabberReturnsDirtyAndMoveRegions(t *testing.T) {
	src := &fakeDuplicationSource{
		width: 64, height: 64, accumulated: 1,
		dirty: []screen.Rect{{Left: 0, Top: 0, Right: 16, Bottom: 16}},
		moves: []MoveRectHint{{SrcX: 0, SrcY: 0, DstX: 16, DstY: 16, W: 16, H: 16}},
	}
	g := NewGPUGrabber(src, nil)

	result := g.Capture(screen.Display{ID: "d1"}, false)
	require.Equal(t, screen.GrabSuccess, result.Status)
	require.Len(t, result.DirtyRegions, 1)
	require.Len(t, result.MoveRegions, 1)
	result.Release()
}

func TestGPUGrabberDirtyRectOverflowYieldsEmptyRegions(t *testing.T) {
	src := &fakeDuplicationSource{width: 64, height: 64, accumulated: 1, dirtyOverflow: true}
	g := NewGPUGrabber(src, nil)

	result := g.Capture(screen.Display{ID: "d1"}, false)
	require.Equal(t, screen.GrabSuccess, result.Status)
	require.Empty(t, result.DirtyRegions)
}

func TestGPUGrabberAcquireErrorResetsSource(t *testing.T) {
	src := &fakeDuplicationSource{acquireErr: errors.New("access lost")}
	g := NewGPUGrabber(src, nil)

	result := g.Capture(screen.Display{ID: "d1"}, false)
	require.Equal(t, screen.GrabFailure, result.Status)
	require.Equal(t, 1, src.resetCalls)
}

func TestGPUGrabberIsAvailableReflectsNilSource(t *testing.T) {
	g := NewGPUGrabber(nil, nil)
	require.False(t, g.IsAvailable())

	g2 := NewGPUGrabber(&fakeDuplicationSource{}, nil)
	require.True(t, g2.IsAvailable())
}
