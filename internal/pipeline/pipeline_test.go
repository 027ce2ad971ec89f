package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/screen"
)

type fakeScreenshotter struct {
	mu      sync.Mutex
	results []screen.GrabResult
	idx     int
}

func (f *fakeScreenshotter) Capture(_ screen.Display) screen.GrabResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return screen.GrabResult{Status: screen.GrabNoChanges}
	}
	r := f.results[f.idx%len(f.results)]
	f.idx++
	return r
}

type fakeEncoder struct {
	calls atomic64
}

func (f *fakeEncoder) ProcessFrame(result screen.GrabResult, width, height int32) (screen.FrameCodec, []screen.EncodedRegion, error) {
	f.calls.add(1)
	buf := bufpool.Rent(bufpool.Global(), 4)
	return screen.CodecJPEG, []screen.EncodedRegion{{IsKeyframe: true, W: width, H: height, JPEG: buf}}, nil
}

type atomic64 struct {
	mu sync.Mutex
	n  int
}

func (a *atomic64) add(d int) {
	a.mu.Lock()
	a.n += d
	a.mu.Unlock()
}

func (a *atomic64) get() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

type fakeSender struct {
	mu    sync.Mutex
	sends []uint64
}

func (f *fakeSender) SendFrame(_ string, frameNumber uint64, _ screen.FrameCodec, regions []screen.EncodedRegion) error {
	f.mu.Lock()
	f.sends = append(f.sends, frameNumber)
	f.mu.Unlock()
	for i := range regions {
		regions[i].Release()
	}
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func fullFrameResult(w, h int32) screen.GrabResult {
	buf := bufpool.Rent(bufpool.Global(), int(w*h*4))
	return screen.GrabResult{Status: screen.GrabSuccess, Width: w, Height: h, FullFrame: buf}
}

func TestPipelineCapturesEncodesAndSendsFrames(t *testing.T) {
	sc := &fakeScreenshotter{results: []screen.GrabResult{fullFrameResult(4, 4)}}
	enc := &fakeEncoder{}
	sender := &fakeSender{}

	p := New(screen.Display{ID: "d1"}, sc, enc, sender, func() int { return 60 })
	p.Start()

	require.Eventually(t, func() bool { return sender.count() > 0 }, time.Second, time.Millisecond)

	p.Stop()
	require.Equal(t, StateStopped, p.State())
}

func TestPipelineStopJoinsWithinTimeout(t *testing.T) {
	sc := &fakeScreenshotter{}
	enc := &fakeEncoder{}
	sender := &fakeSender{}

	p := New(screen.Display{ID: "d1"}, sc, enc, sender, func() int { return 30 })
	p.Start()
	time.Sleep(10 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(joinTimeout + time.Second):
		t.Fatal("Stop did not return within the join timeout budget")
	}
	require.Equal(t, StateStopped, p.State())
}

func TestPipelineStateStartsRunning(t *testing.T) {
	sc := &fakeScreenshotter{}
	enc := &fakeEncoder{}
	sender := &fakeSender{}

	p := New(screen.Display{ID: "d1"}, sc, enc, sender, func() int { return 30 })
	p.Start()
	require.Equal(t, StateRunning, p.State())
	p.Stop()
}
