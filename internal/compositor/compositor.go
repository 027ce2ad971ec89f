// Package compositor implements the viewer-side canvas: a BGRA
// framebuffer assembled from a presenter's keyframe/delta JPEG
// regions, with an optional debug overlay highlighting the most
// recently applied rectangles.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/screen"
)

// borderWidth is the thickness, in pixels, of the debug overlay's
// rectangle borders.
const borderWidth = 2

// Compositor holds a viewer's canvas for one display and applies
// incoming keyframe/delta regions to it under a single mutex.
type Compositor struct {
	pool *bufpool.Pool

	mu     sync.Mutex
	canvas *bufpool.RefCountedBuffer
	width  int32
	height int32

	debugOverlay    bool
	overlay         *bufpool.RefCountedBuffer
	lastFrameNumber uint64
	haveCanvas      bool
}

// New builds a Compositor. A nil pool uses bufpool.Global().
// debugOverlay enables the 2px red border overlay over applied
// rectangles.
func New(pool *bufpool.Pool, debugOverlay bool) *Compositor {
	if pool == nil {
		pool = bufpool.Global()
	}
	return &Compositor{pool: pool, debugOverlay: debugOverlay}
}

// HasCanvas reports whether a canvas has been allocated yet (i.e.
// whether at least one keyframe has been applied).
func (c *Compositor) HasCanvas() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haveCanvas
}

// Dimensions returns the current canvas size. Both are zero if no
// canvas has been allocated yet.
func (c *Compositor) Dimensions() (width, height int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Snapshot returns a copy of the current canvas pixels, or nil if no
// canvas exists yet.
func (c *Compositor) Snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canvas == nil {
		return nil
	}
	pixels, err := c.canvas.Bytes()
	if err != nil {
		return nil
	}
	out := make([]byte, len(pixels))
	copy(out, pixels)
	return out
}

// ApplyKeyframe (re)allocates the canvas to match the first region's
// rect and blits every region into it, always accepting the frame
// regardless of the current watermark.
func (c *Compositor) ApplyKeyframe(regions []screen.EncodedRegion, frameNumber uint64) error {
	if len(regions) == 0 {
		return fmt.Errorf("compositor: keyframe with no regions")
	}

	width, height := regions[0].W, regions[0].H

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.canvas == nil || c.width != width || c.height != height {
		if c.canvas != nil {
			c.canvas.Release()
		}
		if c.overlay != nil {
			c.overlay.Release()
		}
		c.canvas = bufpool.Rent(c.pool, int(width)*int(height)*4)
		if c.debugOverlay {
			c.overlay = bufpool.Rent(c.pool, int(width)*int(height)*4)
		}
		c.width, c.height = width, height
	}

	if c.debugOverlay && c.overlay != nil {
		if err := clear(c.overlay); err != nil {
			return err
		}
	}

	for _, region := range regions {
		if err := c.blitLocked(region); err != nil {
			return err
		}
		if c.debugOverlay && c.overlay != nil {
			drawBorder(c.overlay, c.width, c.height, region.X, region.Y, region.W, region.H)
		}
	}

	c.haveCanvas = true
	c.lastFrameNumber = frameNumber
	return nil
}

// ApplyDelta blits dirty regions into the existing canvas, clamping
// each region to canvas bounds. It is a no-op if no canvas exists yet
// or if frameNumber doesn't advance the ordering watermark.
func (c *Compositor) ApplyDelta(regions []screen.EncodedRegion, frameNumber uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.canvas == nil {
		return nil
	}
	if frameNumber <= c.lastFrameNumber {
		return nil
	}

	if c.debugOverlay && c.overlay != nil {
		if err := clear(c.overlay); err != nil {
			return err
		}
	}

	for _, region := range regions {
		clamped := clampRegion(region, c.width, c.height)
		if clamped.W <= 0 || clamped.H <= 0 {
			continue
		}
		if err := c.blitLocked(clamped); err != nil {
			return err
		}
		if c.debugOverlay && c.overlay != nil {
			drawBorder(c.overlay, c.width, c.height, clamped.X, clamped.Y, clamped.W, clamped.H)
		}
	}

	c.lastFrameNumber = frameNumber
	return nil
}

// blitLocked decodes region's JPEG into a temporary buffer and memcpys
// each row into the canvas at (region.X, region.Y). Caller must hold c.mu.
func (c *Compositor) blitLocked(region screen.EncodedRegion) error {
	jpegBytes, err := region.JPEG.Bytes()
	if err != nil {
		return fmt.Errorf("compositor: region jpeg bytes: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return fmt.Errorf("compositor: decode jpeg: %w", err)
	}

	temp := bufpool.Rent(c.pool, int(region.W)*int(region.H)*4)
	defer temp.Release()
	tempPixels, err := temp.Bytes()
	if err != nil {
		return fmt.Errorf("compositor: temp buffer: %w", err)
	}
	rgbaToBGRA(img, tempPixels, int(region.W), int(region.H))

	canvasPixels, err := c.canvas.Bytes()
	if err != nil {
		return fmt.Errorf("compositor: canvas bytes: %w", err)
	}

	canvasStride := int(c.width) * 4
	rowBytes := int(region.W) * 4
	for row := int32(0); row < region.H; row++ {
		srcOff := int(row) * rowBytes
		dstOff := (int(region.Y+row))*canvasStride + int(region.X)*4
		copy(canvasPixels[dstOff:dstOff+rowBytes], tempPixels[srcOff:srcOff+rowBytes])
	}
	return nil
}

// clampRegion intersects region's rect with the canvas bounds,
// shrinking W/H and adjusting nothing else (the decode step always
// decodes the full JPEG; only the blit target is clamped).
func clampRegion(region screen.EncodedRegion, canvasW, canvasH int32) screen.EncodedRegion {
	clamped := region
	if clamped.X < 0 {
		clamped.W += clamped.X
		clamped.X = 0
	}
	if clamped.Y < 0 {
		clamped.H += clamped.Y
		clamped.Y = 0
	}
	if clamped.X+clamped.W > canvasW {
		clamped.W = canvasW - clamped.X
	}
	if clamped.Y+clamped.H > canvasH {
		clamped.H = canvasH - clamped.Y
	}
	return clamped
}

// clear zeroes a pooled buffer's visible bytes.
func clear(buf *bufpool.RefCountedBuffer) error {
	pixels, err := buf.Bytes()
	if err != nil {
		return err
	}
	for i := range pixels {
		pixels[i] = 0
	}
	return nil
}

// drawBorder paints a borderWidth-pixel opaque red rectangle outline
// into overlay at (x,y,w,h), clamped to the overlay's own bounds.
func drawBorder(overlay *bufpool.RefCountedBuffer, canvasW, canvasH, x, y, w, h int32) {
	pixels, err := overlay.Bytes()
	if err != nil {
		return
	}
	stride := int(canvasW) * 4

	setPixel := func(px, py int32) {
		if px < 0 || py < 0 || px >= canvasW || py >= canvasH {
			return
		}
		off := int(py)*stride + int(px)*4
		pixels[off+0] = 0   // B
		pixels[off+1] = 0   // G
		pixels[off+2] = 255 // R
		pixels[off+3] = 255 // A
	}

	for t := int32(0); t < borderWidth; t++ {
		for px := x; px < x+w; px++ {
			setPixel(px, y+t)
			setPixel(px, y+h-1-t)
		}
		for py := y; py < y+h; py++ {
			setPixel(x+t, py)
			setPixel(x+w-1-t, py)
		}
	}
}

// rgbaToBGRA converts a decoded image into a tightly packed BGRA
// buffer of exactly w*h*4 bytes.
func rgbaToBGRA(img image.Image, dst []byte, w, h int) {
	bounds := img.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			off := (y*w + x) * 4
			dst[off+0] = byte(b >> 8)
			dst[off+1] = byte(g >> 8)
			dst[off+2] = byte(r >> 8)
			dst[off+3] = 255
		}
	}
}
