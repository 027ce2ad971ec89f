package pipeline

import "github.com/haefele/remoteviewer/internal/screen"

// CapturedFrame is one grab result tagged with its sequence number
// within this pipeline's lifetime.
type CapturedFrame struct {
	FrameNumber uint64
	Grab        screen.GrabResult
}

// Dispose releases every pixel buffer the frame references. Safe on a
// zero-value frame.
func (f *CapturedFrame) Dispose() {
	if f == nil {
		return
	}
	f.Grab.Release()
}

// EncodedFrame is one encoder output tagged with the same sequence
// number its source CapturedFrame carried.
type EncodedFrame struct {
	FrameNumber uint64
	Codec       screen.FrameCodec
	Regions     []screen.EncodedRegion
}

// Dispose releases every JPEG buffer the frame references. Safe on a
// zero-value frame.
func (f *EncodedFrame) Dispose() {
	if f == nil {
		return
	}
	for i := range f.Regions {
		f.Regions[i].Release()
	}
}
