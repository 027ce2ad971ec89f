package screenshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/screen"
)

type fakeGrabber struct {
	available   bool
	priority    int
	result      screen.GrabResult
	gotKeyframe []bool
}

func (f *fakeGrabber) IsAvailable() bool { return f.available }
func (f *fakeGrabber) Priority() int     { return f.priority }
func (f *fakeGrabber) Capture(_ screen.Display, forceKeyframe bool) screen.GrabResult {
	f.gotKeyframe = append(f.gotKeyframe, forceKeyframe)
	return f.result
}

func TestServiceFirstCaptureForcesKeyframe(t *testing.T) {
	g := &fakeGrabber{available: true, priority: 100, result: screen.GrabResult{
		Status:    screen.GrabSuccess,
		FullFrame: bufpool.Rent(bufpool.Global(), 16),
	}}
	svc := New(g)
	svc.Capture(screen.Display{ID: "d1"})
	require.Len(t, g.gotKeyframe, 1)
	require.True(t, g.gotKeyframe[0])
}

func TestServiceSkipsUnavailableGrabbers(t *testing.T) {
	unavailable := &fakeGrabber{available: false, priority: 200}
	available := &fakeGrabber{available: true, priority: 100, result: screen.GrabResult{Status: screen.GrabNoChanges}}
	svc := New(unavailable, available)
	result := svc.Capture(screen.Display{ID: "d1"})
	require.Equal(t, screen.GrabNoChanges, result.Status)
	require.Empty(t, unavailable.gotKeyframe)
	require.Len(t, available.gotKeyframe, 1)
}

func TestServiceFallsThroughOnFailure(t *testing.T) {
	failing := &fakeGrabber{available: true, priority: 200, result: screen.GrabResult{Status: screen.GrabFailure}}
	succeeding := &fakeGrabber{available: true, priority: 100, result: screen.GrabResult{Status: screen.GrabNoChanges}}
	svc := New(failing, succeeding)
	result := svc.Capture(screen.Display{ID: "d1"})
	require.Equal(t, screen.GrabNoChanges, result.Status)
	require.Len(t, failing.gotKeyframe, 1)
	require.Len(t, succeeding.gotKeyframe, 1)
}

func TestServiceAllFailingReturnsFailure(t *testing.T) {
	a := &fakeGrabber{available: true, priority: 200, result: screen.GrabResult{Status: screen.GrabFailure}}
	b := &fakeGrabber{available: true, priority: 100, result: screen.GrabResult{Status: screen.GrabFailure}}
	svc := New(a, b)
	result := svc.Capture(screen.Display{ID: "d1"})
	require.Equal(t, screen.GrabFailure, result.Status)
}

func TestServiceResetsKeyframeTimerOnFullFrame(t *testing.T) {
	g := &fakeGrabber{available: true, priority: 100, result: screen.GrabResult{
		Status:    screen.GrabSuccess,
		FullFrame: bufpool.Rent(bufpool.Global(), 16),
	}}
	svc := New(g)

	svc.Capture(screen.Display{ID: "d1"})
	require.True(t, g.gotKeyframe[0])

	svc.Capture(screen.Display{ID: "d1"})
	require.False(t, g.gotKeyframe[1], "second capture within the keyframe interval should not force a keyframe")
}

func TestServiceForceKeyframeIsIdempotentAndOneShot(t *testing.T) {
	g := &fakeGrabber{available: true, priority: 100, result: screen.GrabResult{
		Status:    screen.GrabSuccess,
		FullFrame: bufpool.Rent(bufpool.Global(), 16),
	}}
	svc := New(g)

	svc.Capture(screen.Display{ID: "d1"})
	require.True(t, g.gotKeyframe[0])

	svc.ForceKeyframe("d1")
	svc.ForceKeyframe("d1")
	svc.Capture(screen.Display{ID: "d1"})
	require.True(t, g.gotKeyframe[1])

	svc.Capture(screen.Display{ID: "d1"})
	require.False(t, g.gotKeyframe[2], "force flag must clear after being honored once")
}

func TestServiceTracksDisplaysIndependently(t *testing.T) {
	g := &fakeGrabber{available: true, priority: 100, result: screen.GrabResult{
		Status:    screen.GrabSuccess,
		FullFrame: bufpool.Rent(bufpool.Global(), 16),
	}}
	svc := New(g)

	svc.Capture(screen.Display{ID: "d1"})
	svc.Capture(screen.Display{ID: "d2"})
	require.True(t, g.gotKeyframe[0])
	require.True(t, g.gotKeyframe[1], "a different display's state must not be shared")
}

func TestServiceGrabbersSortedByDescendingPriority(t *testing.T) {
	low := &fakeGrabber{available: true, priority: 50, result: screen.GrabResult{Status: screen.GrabNoChanges}}
	high := &fakeGrabber{available: true, priority: 200, result: screen.GrabResult{Status: screen.GrabNoChanges}}
	svc := New(low, high)
	require.Same(t, high, svc.grabbers[0])
	require.Same(t, low, svc.grabbers[1])
}
