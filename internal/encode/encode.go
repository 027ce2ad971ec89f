// Package encode turns a capture result into the compressed regions a
// presenter sends over the wire: a BGRA->RGBA conversion followed by a
// pooled JPEG encode, one region per dirty rectangle (or one
// frame-wide region for a keyframe).
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/screen"
	"github.com/haefele/remoteviewer/internal/workerpool"
)

// DefaultQuality is the JPEG quality used when a config doesn't
// override it.
const DefaultQuality = 75

// Encoder converts GrabResults into encoded regions using a shared
// buffer pool and a configured JPEG quality.
type Encoder struct {
	pool    *bufpool.Pool
	quality int
	workers *workerpool.Pool
}

// New builds an Encoder. A nil pool uses bufpool.Global(). A
// non-positive quality falls back to DefaultQuality.
func New(pool *bufpool.Pool, quality int) *Encoder {
	if pool == nil {
		pool = bufpool.Global()
	}
	if quality <= 0 {
		quality = DefaultQuality
	}
	if quality > 100 {
		quality = 100
	}
	return &Encoder{pool: pool, quality: quality}
}

// SetWorkerPool makes ProcessFrame encode a multi-region dirty update
// across workers instead of one region at a time. A single-region
// update (including every keyframe) always encodes inline, since
// there is nothing to parallelize and submitting it would just add
// scheduling overhead.
func (e *Encoder) SetWorkerPool(workers *workerpool.Pool) {
	e.workers = workers
}

// ProcessFrame encodes result into zero or more EncodedRegions. A
// full-frame result produces exactly one keyframe region spanning
// (0,0,width,height); a dirty-region result produces one non-keyframe
// region per dirty rectangle. Callers own the returned regions and
// must Release each one once sent.
func (e *Encoder) ProcessFrame(result screen.GrabResult, width, height int32) (screen.FrameCodec, []screen.EncodedRegion, error) {
	if result.FullFrame != nil {
		pixels, err := result.FullFrame.Bytes()
		if err != nil {
			return screen.CodecJPEG, nil, fmt.Errorf("encode: full frame: %w", err)
		}
		region, err := e.encodeRegion(pixels, width, height, 0, 0, width, height, true)
		if err != nil {
			return screen.CodecJPEG, nil, err
		}
		return screen.CodecJPEG, []screen.EncodedRegion{region}, nil
	}

	if e.workers == nil || len(result.DirtyRegions) < 2 {
		return e.processDirtySequential(result.DirtyRegions)
	}
	return e.processDirtyParallel(result.DirtyRegions)
}

func (e *Encoder) processDirtySequential(dirties []screen.DirtyRegion) (screen.FrameCodec, []screen.EncodedRegion, error) {
	regions := make([]screen.EncodedRegion, 0, len(dirties))
	for _, dirty := range dirties {
		pixels, err := dirty.Pixels.Bytes()
		if err != nil {
			for i := range regions {
				regions[i].Release()
			}
			return screen.CodecJPEG, nil, fmt.Errorf("encode: dirty region: %w", err)
		}
		region, err := e.encodeRegion(pixels, dirty.W, dirty.H, dirty.X, dirty.Y, dirty.W, dirty.H, false)
		if err != nil {
			for i := range regions {
				regions[i].Release()
			}
			return screen.CodecJPEG, nil, err
		}
		regions = append(regions, region)
	}
	return screen.CodecJPEG, regions, nil
}

// processDirtyParallel fans each dirty rectangle's JPEG encode out to
// the worker pool, preserving the input order in the result slice so
// callers can't observe that regions were encoded out of order.
func (e *Encoder) processDirtyParallel(dirties []screen.DirtyRegion) (screen.FrameCodec, []screen.EncodedRegion, error) {
	regions := make([]screen.EncodedRegion, len(dirties))
	errs := make([]error, len(dirties))

	var wg sync.WaitGroup
	for i, dirty := range dirties {
		i, dirty := i, dirty
		wg.Add(1)
		submitted := e.workers.Submit(func() {
			defer wg.Done()
			pixels, err := dirty.Pixels.Bytes()
			if err != nil {
				errs[i] = fmt.Errorf("encode: dirty region: %w", err)
				return
			}
			region, err := e.encodeRegion(pixels, dirty.W, dirty.H, dirty.X, dirty.Y, dirty.W, dirty.H, false)
			if err != nil {
				errs[i] = err
				return
			}
			regions[i] = region
		})
		if !submitted {
			wg.Done()
			pixels, err := dirty.Pixels.Bytes()
			if err != nil {
				errs[i] = fmt.Errorf("encode: dirty region: %w", err)
				continue
			}
			region, err := e.encodeRegion(pixels, dirty.W, dirty.H, dirty.X, dirty.Y, dirty.W, dirty.H, false)
			if err != nil {
				errs[i] = err
				continue
			}
			regions[i] = region
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			for i := range regions {
				regions[i].Release()
			}
			return screen.CodecJPEG, nil, err
		}
	}
	return screen.CodecJPEG, regions, nil
}

// encodeRegion converts a tightly packed BGRA buffer of pixelW*pixelH
// pixels into an RGBA image and JPEG-encodes it into a pooled buffer,
// tagging the result with the rect it covers within the full frame.
func (e *Encoder) encodeRegion(bgra []byte, pixelW, pixelH, x, y, w, h int32, isKeyframe bool) (screen.EncodedRegion, error) {
	pixelCount := int(pixelW) * int(pixelH)
	if len(bgra) < pixelCount*4 {
		return screen.EncodedRegion{}, fmt.Errorf("encode: region buffer too small: have %d bytes, need %d", len(bgra), pixelCount*4)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(pixelW), int(pixelH)))
	bgraToRGBA(bgra, img.Pix, pixelCount)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return screen.EncodedRegion{}, fmt.Errorf("encode: jpeg encode: %w", err)
	}

	encoded := bufpool.Rent(e.pool, buf.Len())
	dst, err := encoded.Bytes()
	if err != nil {
		encoded.Release()
		return screen.EncodedRegion{}, fmt.Errorf("encode: rented buffer: %w", err)
	}
	copy(dst, buf.Bytes())

	return screen.EncodedRegion{
		IsKeyframe: isKeyframe,
		X:          x,
		Y:          y,
		W:          w,
		H:          h,
		JPEG:       encoded,
	}, nil
}

// bgraToRGBA converts a tightly packed BGRA buffer into the RGBA
// layout image.RGBA expects, swapping the red and blue channels and
// forcing full opacity (desktop captures carry no meaningful alpha).
func bgraToRGBA(src, dst []byte, pixelCount int) {
	n := pixelCount * 4
	for i := 0; i < n; i += 4 {
		dst[i+0] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i+0]
		dst[i+3] = 255
	}
}
