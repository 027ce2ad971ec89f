// Package capture implements the priority-ordered screen grabber
// variants: GPU desktop-duplication, CPU full-frame with software
// diff, and IPC delegation to a privileged recorder process. The
// actual OS capture primitives (DXGI/X11/Quartz, GDI, the recorder's
// named pipe) are external collaborators; each variant wraps one
// narrow documented interface rather than calling platform APIs
// directly, so the grab/diff/extract logic here is fully testable
// against fakes.
package capture

import (
	"errors"

	"github.com/haefele/remoteviewer/internal/screen"
)

// Errors surfaced by FrameSource implementations and propagated as
// GrabFailure results.
var (
	ErrNotSupported     = errors.New("capture: not supported on this platform")
	ErrPermissionDenied = errors.New("capture: permission denied")
	ErrDisplayNotFound  = errors.New("capture: display not found")
	ErrAccessLost       = errors.New("capture: surface access lost")
)

// Grabber produces GrabResults for one display. Implementations are
// ranked by Priority and tried in descending order by the screenshot
// service (§4.D); IsAvailable lets a variant opt out entirely (e.g. no
// GPU duplication API on this platform) without needing to fail every
// capture attempt first.
type Grabber interface {
	IsAvailable() bool
	Priority() int
	Capture(display screen.Display, forceKeyframe bool) screen.GrabResult
}

// FrameSource is the narrow OS-capture boundary wrapped by the CPU
// grabber: capture one full frame as tightly packed BGRA.
type FrameSource interface {
	// Dimensions returns the current pixel size of the display.
	Dimensions() (width, height int32, err error)
	// CaptureFull captures the entire display into a tightly packed
	// BGRA buffer of exactly width*height*4 bytes.
	CaptureFull() (pixels []byte, err error)
}
