//go:build !windows

package capture

import (
	"context"
	"fmt"
	"net"
)

// DialRecorderPipe connects to the recorder's unix domain socket and
// returns a ready-to-use RecorderConn. sessionKey authenticates and
// signs every subsequent frame, established out-of-band during
// session broker handshake.
func DialRecorderPipe(ctx context.Context, addr string, sessionKey []byte) (*RecorderConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", addr)
	if err != nil {
		return nil, fmt.Errorf("capture: dial recorder socket: %w", err)
	}
	return newRecorderConn(conn, sessionKey), nil
}
