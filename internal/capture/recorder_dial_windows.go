//go:build windows

package capture

import (
	"context"
	"fmt"

	"github.com/Microsoft/go-winio"
)

// DialRecorderPipe connects to the recorder's named pipe (e.g.
// `\\.\pipe\remoteviewer-recorder`) and returns a ready-to-use
// RecorderConn. sessionKey authenticates and signs every subsequent
// frame, established out-of-band during session broker handshake.
func DialRecorderPipe(ctx context.Context, addr string, sessionKey []byte) (*RecorderConn, error) {
	conn, err := winio.DialPipeContext(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("capture: dial recorder pipe: %w", err)
	}
	return newRecorderConn(conn, sessionKey), nil
}
