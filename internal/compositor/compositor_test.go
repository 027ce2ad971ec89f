package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/screen"
)

func encodeSolidJPEG(t *testing.T, w, h int, c color.RGBA) *bufpool.RefCountedBuffer {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	rb := bufpool.Rent(bufpool.Global(), buf.Len())
	data, err := rb.Bytes()
	require.NoError(t, err)
	copy(data, buf.Bytes())
	return rb
}

func TestApplyKeyframeAllocatesCanvas(t *testing.T) {
	comp := New(nil, false)
	jpegBuf := encodeSolidJPEG(t, 4, 4, color.RGBA{R: 200, G: 0, B: 0, A: 255})

	err := comp.ApplyKeyframe([]screen.EncodedRegion{
		{IsKeyframe: true, X: 0, Y: 0, W: 4, H: 4, JPEG: jpegBuf},
	}, 1)
	require.NoError(t, err)
	require.True(t, comp.HasCanvas())

	w, h := comp.Dimensions()
	require.Equal(t, int32(4), w)
	require.Equal(t, int32(4), h)

	snap := comp.Snapshot()
	require.Len(t, snap, 4*4*4)
}

func TestApplyDeltaNoopWithoutCanvas(t *testing.T) {
	comp := New(nil, false)
	err := comp.ApplyDelta([]screen.EncodedRegion{}, 1)
	require.NoError(t, err)
	require.False(t, comp.HasCanvas())
}

func TestApplyDeltaDropsStaleFrameNumber(t *testing.T) {
	comp := New(nil, false)
	jpegBuf := encodeSolidJPEG(t, 4, 4, color.RGBA{R: 0, G: 0, B: 0, A: 255})
	require.NoError(t, comp.ApplyKeyframe([]screen.EncodedRegion{{X: 0, Y: 0, W: 4, H: 4, JPEG: jpegBuf}}, 10))

	before := comp.Snapshot()

	stale := encodeSolidJPEG(t, 2, 2, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	err := comp.ApplyDelta([]screen.EncodedRegion{{X: 0, Y: 0, W: 2, H: 2, JPEG: stale}}, 5)
	require.NoError(t, err)

	after := comp.Snapshot()
	require.Equal(t, before, after, "a delta with frame_number <= watermark must be dropped")
}

func TestApplyDeltaBlitsIntoExistingCanvas(t *testing.T) {
	comp := New(nil, false)
	base := encodeSolidJPEG(t, 4, 4, color.RGBA{R: 0, G: 0, B: 0, A: 255})
	require.NoError(t, comp.ApplyKeyframe([]screen.EncodedRegion{{X: 0, Y: 0, W: 4, H: 4, JPEG: base}}, 1))

	patch := encodeSolidJPEG(t, 2, 2, color.RGBA{R: 255, G: 10, B: 20, A: 255})
	err := comp.ApplyDelta([]screen.EncodedRegion{{X: 1, Y: 1, W: 2, H: 2, JPEG: patch}}, 2)
	require.NoError(t, err)

	snap := comp.Snapshot()
	stride := 4 * 4
	off := 1*stride + 1*4
	require.InDelta(t, 20, snap[off+0], 5) // B
	require.InDelta(t, 255, snap[off+2], 5) // R
}

func TestApplyDeltaClampsOutOfBoundsRegion(t *testing.T) {
	comp := New(nil, false)
	base := encodeSolidJPEG(t, 4, 4, color.RGBA{R: 0, G: 0, B: 0, A: 255})
	require.NoError(t, comp.ApplyKeyframe([]screen.EncodedRegion{{X: 0, Y: 0, W: 4, H: 4, JPEG: base}}, 1))

	patch := encodeSolidJPEG(t, 4, 4, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	err := comp.ApplyDelta([]screen.EncodedRegion{{X: 2, Y: 2, W: 4, H: 4, JPEG: patch}}, 2)
	require.NoError(t, err, "an out-of-bounds region must be clamped, not error")
}

func TestApplyKeyframeResetsCanvasOnSizeChange(t *testing.T) {
	comp := New(nil, false)
	first := encodeSolidJPEG(t, 4, 4, color.RGBA{A: 255})
	require.NoError(t, comp.ApplyKeyframe([]screen.EncodedRegion{{X: 0, Y: 0, W: 4, H: 4, JPEG: first}}, 1))

	second := encodeSolidJPEG(t, 8, 8, color.RGBA{A: 255})
	require.NoError(t, comp.ApplyKeyframe([]screen.EncodedRegion{{X: 0, Y: 0, W: 8, H: 8, JPEG: second}}, 2))

	w, h := comp.Dimensions()
	require.Equal(t, int32(8), w)
	require.Equal(t, int32(8), h)
}

func TestApplyKeyframeWithNoRegionsErrors(t *testing.T) {
	comp := New(nil, false)
	err := comp.ApplyKeyframe(nil, 1)
	require.Error(t, err)
}

func TestDebugOverlayDrawsBorderWithoutError(t *testing.T) {
	comp := New(nil, true)
	jpegBuf := encodeSolidJPEG(t, 8, 8, color.RGBA{A: 255})
	require.NoError(t, comp.ApplyKeyframe([]screen.EncodedRegion{{X: 0, Y: 0, W: 8, H: 8, JPEG: jpegBuf}}, 1))

	patch := encodeSolidJPEG(t, 4, 4, color.RGBA{R: 50, A: 255})
	require.NoError(t, comp.ApplyDelta([]screen.EncodedRegion{{X: 1, Y: 1, W: 4, H: 4, JPEG: patch}}, 2))
}
