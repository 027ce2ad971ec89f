package capture

import (
	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/screen"
)

// RawDirtyRegion is a dirty rectangle as decoded off the wire, pixels
// still a plain byte slice rather than a pooled buffer.
type RawDirtyRegion struct {
	X, Y, W, H int32
	Pixels     []byte
}

// FrameReply is the decoded reply of a capture request sent across the
// recorder IPC channel.
type FrameReply struct {
	Status  screen.GrabStatus
	Width   int32
	Height  int32
	Full    []byte
	Regions []RawDirtyRegion
	Moves   []screen.MoveRegion
}

// RecorderClient is the boundary wrapped by the IPC grabber: a
// connection to a privileged recorder process running in the target's
// interactive session, used when the presenter process itself cannot
// capture the screen directly (locked-down service accounts, a
// broker-mediated session per the session detector). Implementations
// speak the framed, HMAC-signed protocol over a named pipe or unix
// socket; see RecorderConn for the concrete transport.
type RecorderClient interface {
	// RequestFrame asks the recorder to capture displayID, optionally
	// forcing a keyframe, and waits for its reply.
	RequestFrame(displayID string, forceKeyframe bool) (FrameReply, error)
	// Healthy reports whether the recorder connection is currently usable.
	Healthy() bool
}

// IPCGrabber delegates capture to a RecorderClient. Priority 200: tried
// before both the GPU and CPU grabbers, since a broker-mediated session
// means direct capture is unavailable or disallowed regardless of GPU
// support.
type IPCGrabber struct {
	client RecorderClient
	pool   *bufpool.Pool
}

// NewIPCGrabber builds an IPC grabber over client. A nil client makes
// IsAvailable report false.
func NewIPCGrabber(client RecorderClient, pool *bufpool.Pool) *IPCGrabber {
	if pool == nil {
		pool = bufpool.Global()
	}
	return &IPCGrabber{client: client, pool: pool}
}

func (g *IPCGrabber) IsAvailable() bool {
	return g.client != nil && g.client.Healthy()
}

func (g *IPCGrabber) Priority() int { return 200 }

func (g *IPCGrabber) Capture(display screen.Display, forceKeyframe bool) screen.GrabResult {
	reply, err := g.client.RequestFrame(display.ID, forceKeyframe)
	if err != nil {
		return screen.GrabResult{Status: screen.GrabFailure}
	}

	switch reply.Status {
	case screen.GrabNoChanges:
		return screen.GrabResult{Status: screen.GrabNoChanges}
	case screen.GrabFailure:
		return screen.GrabResult{Status: screen.GrabFailure}
	}

	result := screen.GrabResult{Status: screen.GrabSuccess, Width: reply.Width, Height: reply.Height}
	result.MoveRegions = reply.Moves

	if reply.Full != nil {
		full := bufpool.Rent(g.pool, len(reply.Full))
		b, _ := full.Bytes()
		copy(b, reply.Full)
		result.FullFrame = full
		return result
	}

	if len(reply.Regions) > 0 {
		regions := make([]screen.DirtyRegion, 0, len(reply.Regions))
		for _, raw := range reply.Regions {
			buf := bufpool.Rent(g.pool, len(raw.Pixels))
			b, _ := buf.Bytes()
			copy(b, raw.Pixels)
			regions = append(regions, screen.DirtyRegion{X: raw.X, Y: raw.Y, W: raw.W, H: raw.H, Pixels: buf})
		}
		result.DirtyRegions = regions
	}
	return result
}
