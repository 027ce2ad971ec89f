package capture

import (
	"sync"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/diff"
	"github.com/haefele/remoteviewer/internal/screen"
)

// CPUGrabber unconditionally captures the full frame via a FrameSource
// and, when a previous frame is already on file for the display and a
// keyframe wasn't requested, runs the software block diff to emit
// dirty regions instead of the whole frame. Priority 50: below the GPU
// duplication backend, above nothing (always available as a fallback).
type CPUGrabber struct {
	source FrameSource
	pool   *bufpool.Pool

	mu        sync.Mutex
	previous  map[string]*bufpool.RefCountedBuffer
	prevWidth map[string]int32
	prevHeigh map[string]int32
}

// NewCPUGrabber builds a CPU grabber over source, renting pixel
// buffers from pool (the process-wide pool when nil).
func NewCPUGrabber(source FrameSource, pool *bufpool.Pool) *CPUGrabber {
	if pool == nil {
		pool = bufpool.Global()
	}
	return &CPUGrabber{
		source:    source,
		pool:      pool,
		previous:  make(map[string]*bufpool.RefCountedBuffer),
		prevWidth: make(map[string]int32),
		prevHeigh: make(map[string]int32),
	}
}

func (g *CPUGrabber) IsAvailable() bool { return g.source != nil }

func (g *CPUGrabber) Priority() int { return 50 }

func (g *CPUGrabber) Capture(display screen.Display, forceKeyframe bool) screen.GrabResult {
	width, height, err := g.source.Dimensions()
	if err != nil {
		return screen.GrabResult{Status: screen.GrabFailure}
	}

	pixels, err := g.source.CaptureFull()
	if err != nil {
		return screen.GrabResult{Status: screen.GrabFailure}
	}
	if int32(len(pixels)) != width*height*4 {
		return screen.GrabResult{Status: screen.GrabFailure}
	}

	full := bufpool.Rent(g.pool, len(pixels))
	fullBytes, _ := full.Bytes()
	copy(fullBytes, pixels)

	g.mu.Lock()
	prev := g.previous[display.ID]
	prevW, prevH := g.prevWidth[display.ID], g.prevHeigh[display.ID]
	g.mu.Unlock()

	sizeChanged := prev == nil || prevW != width || prevH != height

	if forceKeyframe || sizeChanged {
		g.storePrevious(display.ID, full, width, height)
		return screen.GrabResult{Status: screen.GrabSuccess, FullFrame: full, Width: width, Height: height}
	}

	prevBytes, err := prev.Bytes()
	if err != nil {
		g.storePrevious(display.ID, full, width, height)
		return screen.GrabResult{Status: screen.GrabSuccess, FullFrame: full, Width: width, Height: height}
	}

	rects, ok := diff.Detect(fullBytes, prevBytes, width, height)
	if !ok {
		// Too many changed blocks: fall back to a full keyframe.
		g.storePrevious(display.ID, full, width, height)
		return screen.GrabResult{Status: screen.GrabSuccess, FullFrame: full, Width: width, Height: height}
	}
	if len(rects) == 0 {
		full.Release()
		return screen.GrabResult{Status: screen.GrabNoChanges}
	}

	regions := make([]screen.DirtyRegion, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, extractRegion(fullBytes, width, r, g.pool))
	}

	g.storePrevious(display.ID, full, width, height)
	return screen.GrabResult{Status: screen.GrabSuccess, DirtyRegions: regions, Width: width, Height: height}
}

func (g *CPUGrabber) storePrevious(id string, frame *bufpool.RefCountedBuffer, width, height int32) {
	if err := frame.AddRef(); err != nil {
		return
	}
	g.mu.Lock()
	old := g.previous[id]
	g.previous[id] = frame
	g.prevWidth[id] = width
	g.prevHeigh[id] = height
	g.mu.Unlock()
	if old != nil {
		old.Release()
	}
}

// extractRegion copies a dirty rectangle's pixels out of a full frame
// buffer into a freshly rented, tightly packed RefCountedBuffer.
func extractRegion(full []byte, frameWidth int32, r screen.Rect, pool *bufpool.Pool) screen.DirtyRegion {
	w, h := r.Width(), r.Height()
	out := bufpool.Rent(pool, int(w*h*4))
	dst, _ := out.Bytes()
	rowBytes := int(w * 4)
	stride := int64(frameWidth) * 4
	for row := int32(0); row < h; row++ {
		srcStart := (int64(r.Top+row))*stride + int64(r.Left)*4
		copy(dst[int(row)*rowBytes:int(row)*rowBytes+rowBytes], full[srcStart:srcStart+int64(rowBytes)])
	}
	return screen.DirtyRegion{X: r.Left, Y: r.Top, W: w, H: h, Pixels: out}
}
