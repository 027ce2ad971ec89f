// Package pipeline runs the three-stage capture/encode/send loop for
// a single display: a capture goroutine feeding a drop-oldest channel
// into an encode goroutine, itself feeding a second drop-oldest
// channel into a send goroutine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haefele/remoteviewer/internal/pacing"
	"github.com/haefele/remoteviewer/internal/screen"
)

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFaulted:
		return "faulted"
	default:
		return "stopped"
	}
}

// joinTimeout bounds how long Stop waits for the three loop
// goroutines to exit before giving up and disposing the channels out
// from under them anyway.
const joinTimeout = 2 * time.Second

// Screenshotter captures frames for one display, as implemented by
// *screenshot.Service.
type Screenshotter interface {
	Capture(display screen.Display) screen.GrabResult
}

// Encoder turns a capture result into wire-ready regions, as
// implemented by *encode.Encoder.
type Encoder interface {
	ProcessFrame(result screen.GrabResult, width, height int32) (screen.FrameCodec, []screen.EncodedRegion, error)
}

// FrameSender delivers one encoded frame to every viewer subscribed
// to this pipeline's display.
type FrameSender interface {
	SendFrame(displayID string, frameNumber uint64, codec screen.FrameCodec, regions []screen.EncodedRegion) error
}

// Pipeline drives one display's capture/encode/send loop.
type Pipeline struct {
	display     screen.Display
	screenshots Screenshotter
	encoder     Encoder
	sender      FrameSender
	targetFPSFn func() int

	state atomic.Int32

	cancel context.CancelFunc
	wg     sync.WaitGroup

	captured *dropChannel[*CapturedFrame]
	encoded  *dropChannel[*EncodedFrame]

	frameNumber atomic.Uint64
}

// New builds a Pipeline for display. targetFPSFn is consulted once
// per capture iteration so FPS can be retuned live.
func New(display screen.Display, screenshots Screenshotter, encoder Encoder, sender FrameSender, targetFPSFn func() int) *Pipeline {
	p := &Pipeline{
		display:     display,
		screenshots: screenshots,
		encoder:     encoder,
		sender:      sender,
		targetFPSFn: targetFPSFn,
		captured:    newDropChannel[*CapturedFrame](func(f *CapturedFrame) { f.Dispose() }),
		encoded:     newDropChannel[*EncodedFrame](func(f *EncodedFrame) { f.Dispose() }),
	}
	return p
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Start launches the three loop goroutines. Calling Start twice on
// the same Pipeline is a caller error; build a new Pipeline instead.
func (p *Pipeline) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state.Store(int32(StateRunning))

	p.wg.Add(3)
	go p.captureLoop(ctx)
	go p.encodeLoop(ctx)
	go p.sendLoop(ctx)
}

// Stop cancels the pipeline, waits up to a fixed timeout for all
// three loops to exit, then drains and disposes anything left in
// either channel and marks the pipeline Stopped regardless of
// whether the join completed in time.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(joinTimeout):
		slog.Warn("pipeline: timed out waiting for loops to join", "display", p.display.ID)
	}

	p.captured.Drain()
	p.encoded.Drain()
	p.state.Store(int32(StateStopped))
}

func (p *Pipeline) fault(err error) {
	slog.Error("pipeline: faulted", "display", p.display.ID, "error", err)
	p.state.Store(int32(StateFaulted))
}

func (p *Pipeline) captureLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.captured.Close()
	defer func() {
		if r := recover(); r != nil {
			p.fault(fmt.Errorf("capture loop panic: %v", r))
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		grab := p.screenshots.Capture(p.display)

		switch grab.Status {
		case screen.GrabSuccess:
			n := p.frameNumber.Add(1)
			p.captured.TryWrite(&CapturedFrame{FrameNumber: n, Grab: grab})
		case screen.GrabNoChanges:
			sleepOrDone(ctx, time.Millisecond)
			continue
		case screen.GrabFailure:
			sleepOrDone(ctx, 10*time.Millisecond)
			continue
		}

		fps := p.targetFPSFn()
		if fps <= 0 {
			fps = 1
		}
		targetInterval := time.Second / time.Duration(fps)
		elapsed := time.Since(start)
		if remaining := targetInterval - elapsed; remaining > 0 {
			pacing.Sleep(ctx, remaining)
		}
	}
}

func (p *Pipeline) encodeLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.encoded.Close()

	for {
		frame, ok := p.captured.Read()
		if !ok {
			return
		}

		codec, regions, err := p.encoder.ProcessFrame(frame.Grab, frame.Grab.Width, frame.Grab.Height)
		frame.Grab.Release()
		if err != nil {
			slog.Warn("pipeline: encode error", "display", p.display.ID, "error", err)
			continue
		}

		p.encoded.TryWrite(&EncodedFrame{FrameNumber: frame.FrameNumber, Codec: codec, Regions: regions})

		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pipeline) sendLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		frame, ok := p.encoded.Read()
		if !ok {
			return
		}

		if err := p.sender.SendFrame(p.display.ID, frame.FrameNumber, frame.Codec, frame.Regions); err != nil {
			slog.Warn("pipeline: send error", "display", p.display.ID, "error", err)
		}
		frame.Dispose()

		if ctx.Err() != nil {
			return
		}
	}
}

// sleepOrDone sleeps for d or returns early if ctx is cancelled.
func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
