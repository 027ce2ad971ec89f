// Package screen defines the presenter-side capture data model: display
// geometry, grab results, dirty/move regions, and encoded JPEG tiles.
package screen

import "github.com/haefele/remoteviewer/internal/bufpool"

// Rect is inclusive-left, inclusive-top, exclusive-right, exclusive-bottom.
// Width is Right-Left and is never negative for a well-formed Rect.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// Width returns Right-Left.
func (r Rect) Width() int32 { return r.Right - r.Left }

// Height returns Bottom-Top.
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// Empty reports whether the rect has zero or negative area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Intersects reports whether r and o overlap (sharing at least one pixel).
func (r Rect) Intersects(o Rect) bool {
	return r.Left < o.Right && o.Left < r.Right && r.Top < o.Bottom && o.Top < r.Bottom
}

// Inflate grows r by d on every side.
func (r Rect) Inflate(d int32) Rect {
	return Rect{Left: r.Left - d, Top: r.Top - d, Right: r.Right + d, Bottom: r.Bottom + d}
}

// Union returns the smallest rect containing both r and o.
func (r Rect) Union(o Rect) Rect {
	u := r
	if o.Left < u.Left {
		u.Left = o.Left
	}
	if o.Top < u.Top {
		u.Top = o.Top
	}
	if o.Right > u.Right {
		u.Right = o.Right
	}
	if o.Bottom > u.Bottom {
		u.Bottom = o.Bottom
	}
	return u
}

// Display describes one capturable output. Identity is ID, stable
// across reconnects; the remaining fields may change between grabs
// (e.g. a monitor being repositioned).
type Display struct {
	ID           string
	FriendlyName string
	IsPrimary    bool
	Bounds       Rect
}

// DirtyRegion is a rectangle of changed pixels, tightly packed as BGRA
// (4 bytes per pixel) in Pixels. Invariant: 0<=X, X+W<=frame width,
// same for Y/height; Pixels.Len() == W*H*4.
type DirtyRegion struct {
	X, Y, W, H int32
	Pixels     *bufpool.RefCountedBuffer
}

// MoveRegion is a pure hint: a rectangle of pixels that can be copied
// from (SrcX,SrcY) to (DstX,DstY) within the existing canvas, with no
// pixel payload carried over the wire.
type MoveRegion struct {
	SrcX, SrcY, DstX, DstY, W, H int32
}

// GrabStatus is the outcome of one capture attempt.
type GrabStatus int

const (
	GrabSuccess GrabStatus = iota
	GrabNoChanges
	GrabFailure
)

func (s GrabStatus) String() string {
	switch s {
	case GrabSuccess:
		return "success"
	case GrabNoChanges:
		return "no_changes"
	case GrabFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// GrabResult is the result of one grabber capture call. Exactly one of
// FullFrame or (DirtyRegions/MoveRegions) is populated when
// Status==GrabSuccess; both are nil for NoChanges/Failure.
type GrabResult struct {
	Status       GrabStatus
	FullFrame    *bufpool.RefCountedBuffer // tightly packed BGRA, Width*Height*4 bytes
	DirtyRegions []DirtyRegion
	MoveRegions  []MoveRegion
	Width        int32
	Height       int32
}

// Release returns every pixel buffer referenced by the result to the
// pool. Safe to call on a zero-value or partially populated result.
func (g *GrabResult) Release() {
	if g == nil {
		return
	}
	if g.FullFrame != nil {
		g.FullFrame.Release()
	}
	for _, r := range g.DirtyRegions {
		if r.Pixels != nil {
			r.Pixels.Release()
		}
	}
}

// FrameCodec names the compression applied to an EncodedRegion.
type FrameCodec string

// JPEG is presently the only supported codec; the field stays a
// string enum so adding a second never requires a wire-format bump.
const CodecJPEG FrameCodec = "jpeg"

// EncodedRegion is one compressed tile of a frame. A single region
// spanning the whole frame with IsKeyframe=true is the keyframe
// encoding; otherwise each region covers one dirty rectangle.
type EncodedRegion struct {
	IsKeyframe bool
	X, Y, W, H int32
	JPEG       *bufpool.RefCountedBuffer
}

// Release returns the region's JPEG buffer to the pool.
func (e *EncodedRegion) Release() {
	if e != nil && e.JPEG != nil {
		e.JPEG.Release()
	}
}
