//go:build !windows

package capture

import "github.com/haefele/remoteviewer/internal/screen"

// EnumerateDisplays has no WMI-based implementation outside Windows;
// callers on other platforms supply their own Display list (X11
// RandR, CoreGraphics) until a native enumerator lands here.
func EnumerateDisplays() ([]screen.Display, error) {
	return nil, ErrNotSupported
}
