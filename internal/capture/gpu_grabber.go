package capture

import (
	"log/slog"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/screen"
)

// scratchCapacity is the fixed size of the dirty/move rect scratch
// buffers passed to the duplication API per the design. A query
// needing more than this many entries is treated as "insufficient
// buffer" and that list is returned empty for this cycle; the
// screenshot service upgrades to a keyframe on the following tick
// once it notices the region list under-covers the frame.
const scratchCapacity = 100

// MoveRectHint is a pure intra-canvas copy hint surfaced by the
// desktop-duplication API: no pixel payload, just source and
// destination rectangles of identical size.
type MoveRectHint struct {
	SrcX, SrcY, DstX, DstY, W, H int32
}

// DuplicationSource is the GPU desktop-duplication boundary: acquiring
// frames, querying dirty/move rects, and reading pixels back from the
// GPU. Implementations live in platform-specific files (DXGI on
// Windows); this package only orchestrates the documented interface.
type DuplicationSource interface {
	Dimensions() (width, height int32, err error)
	// AcquireNextFrame polls for a new frame with zero timeout. An
	// accumulatedFrames of 0 means nothing changed since the last call.
	AcquireNextFrame() (accumulatedFrames uint32, err error)
	// CaptureFullPacked copies the entire surface via a staging
	// texture into a tightly packed BGRA buffer, handling a row pitch
	// that may not equal width*4.
	CaptureFullPacked() (pixels []byte, err error)
	// DirtyRects fills scratch with changed rectangles and returns how
	// many were written; ok is false if the list needed more than
	// len(scratch) entries.
	DirtyRects(scratch []screen.Rect) (n int, ok bool, err error)
	// MoveRects fills scratch with move hints, same overflow contract
	// as DirtyRects.
	MoveRects(scratch []MoveRectHint) (n int, ok bool, err error)
	// CaptureRegionPacked extracts one rectangle's pixels, tightly packed.
	CaptureRegionPacked(r screen.Rect) (pixels []byte, err error)
	// Reset recreates the underlying duplication object after an
	// access-lost or other unexpected surface error.
	Reset() error
}

// GPUGrabber wraps a DuplicationSource. Priority 100: tried before the
// CPU grabber on platforms where desktop duplication is available.
type GPUGrabber struct {
	source       DuplicationSource
	pool         *bufpool.Pool
	dirtyScratch []screen.Rect
	moveScratch  []MoveRectHint
}

// NewGPUGrabber builds a GPU grabber over source. A nil source makes
// IsAvailable report false so the screenshot service skips straight
// to the CPU grabber.
func NewGPUGrabber(source DuplicationSource, pool *bufpool.Pool) *GPUGrabber {
	if pool == nil {
		pool = bufpool.Global()
	}
	return &GPUGrabber{
		source:       source,
		pool:         pool,
		dirtyScratch: make([]screen.Rect, scratchCapacity),
		moveScratch:  make([]MoveRectHint, scratchCapacity),
	}
}

func (g *GPUGrabber) IsAvailable() bool { return g.source != nil }

func (g *GPUGrabber) Priority() int { return 100 }

func (g *GPUGrabber) Capture(display screen.Display, forceKeyframe bool) screen.GrabResult {
	accumulated, err := g.source.AcquireNextFrame()
	if err != nil {
		g.handleSurfaceError(display, err)
		return screen.GrabResult{Status: screen.GrabFailure}
	}
	if accumulated == 0 {
		return screen.GrabResult{Status: screen.GrabNoChanges}
	}

	width, height, err := g.source.Dimensions()
	if err != nil {
		g.handleSurfaceError(display, err)
		return screen.GrabResult{Status: screen.GrabFailure}
	}

	if forceKeyframe {
		packed, err := g.source.CaptureFullPacked()
		if err != nil {
			g.handleSurfaceError(display, err)
			return screen.GrabResult{Status: screen.GrabFailure}
		}
		full := bufpool.Rent(g.pool, len(packed))
		fullBytes, _ := full.Bytes()
		copy(fullBytes, packed)
		return screen.GrabResult{Status: screen.GrabSuccess, FullFrame: full, Width: width, Height: height}
	}

	dirtyN, dirtyOK, err := g.source.DirtyRects(g.dirtyScratch)
	if err != nil {
		g.handleSurfaceError(display, err)
		return screen.GrabResult{Status: screen.GrabFailure}
	}
	moveN, moveOK, err := g.source.MoveRects(g.moveScratch)
	if err != nil {
		g.handleSurfaceError(display, err)
		return screen.GrabResult{Status: screen.GrabFailure}
	}

	var dirty []screen.DirtyRegion
	if dirtyOK {
		dirty = make([]screen.DirtyRegion, 0, dirtyN)
		for i := 0; i < dirtyN; i++ {
			r := g.dirtyScratch[i]
			pixels, err := g.source.CaptureRegionPacked(r)
			if err != nil {
				g.handleSurfaceError(display, err)
				return screen.GrabResult{Status: screen.GrabFailure}
			}
			buf := bufpool.Rent(g.pool, len(pixels))
			b, _ := buf.Bytes()
			copy(b, pixels)
			dirty = append(dirty, screen.DirtyRegion{X: r.Left, Y: r.Top, W: r.Width(), H: r.Height(), Pixels: buf})
		}
	}

	var moves []screen.MoveRegion
	if moveOK {
		moves = make([]screen.MoveRegion, 0, moveN)
		for i := 0; i < moveN; i++ {
			m := g.moveScratch[i]
			moves = append(moves, screen.MoveRegion{SrcX: m.SrcX, SrcY: m.SrcY, DstX: m.DstX, DstY: m.DstY, W: m.W, H: m.H})
		}
	}

	return screen.GrabResult{Status: screen.GrabSuccess, DirtyRegions: dirty, MoveRegions: moves, Width: width, Height: height}
}

func (g *GPUGrabber) handleSurfaceError(display screen.Display, err error) {
	slog.Warn("gpu grabber surface error, resetting", "displayId", display.ID, "error", err)
	if resetErr := g.source.Reset(); resetErr != nil {
		slog.Warn("gpu grabber reset failed", "displayId", display.ID, "error", resetErr)
	}
}
