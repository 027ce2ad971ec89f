package capture

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/haefele/remoteviewer/internal/screen"
)

// maxRecorderMessageSize bounds a single framed recorder message.
const maxRecorderMessageSize = 32 * 1024 * 1024

// recorderEnvelope is the wire frame exchanged with the privileged
// recorder process: [4-byte BE length][JSON envelope], HMAC-signed and
// sequence-numbered against replay, mirroring the broker's own
// session-helper framing.
type recorderEnvelope struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error,omitempty"`
	HMAC    string          `json:"hmac"`
}

const (
	recorderTypeCaptureRequest = "capture_request"
	recorderTypeCaptureReply   = "capture_reply"
)

type captureRequestPayload struct {
	DisplayID     string `json:"displayId"`
	ForceKeyframe bool   `json:"forceKeyframe"`
}

type captureReplyPayload struct {
	Status  string              `json:"status"`
	Width   int32               `json:"width"`
	Height  int32               `json:"height"`
	Full    []byte              `json:"full,omitempty"`
	Regions []wireDirtyRegion   `json:"regions,omitempty"`
	Moves   []screen.MoveRegion `json:"moves,omitempty"`
}

type wireDirtyRegion struct {
	X, Y, W, H int32
	Pixels     []byte
}

// RecorderConn is a RecorderClient backed by a named pipe (Windows) or
// unix domain socket connection to the privileged recorder process.
// Construct one with DialRecorderPipe, whose transport is platform
// specific.
type RecorderConn struct {
	conn       net.Conn
	sessionKey []byte
	sendSeq    atomic.Uint64
	mu         sync.Mutex
	healthy    atomic.Bool
}

func newRecorderConn(conn net.Conn, sessionKey []byte) *RecorderConn {
	rc := &RecorderConn{conn: conn, sessionKey: sessionKey}
	rc.healthy.Store(true)
	return rc
}

func (r *RecorderConn) Healthy() bool { return r.healthy.Load() }

func (r *RecorderConn) RequestFrame(displayID string, forceKeyframe bool) (FrameReply, error) {
	payload, err := json.Marshal(captureRequestPayload{DisplayID: displayID, ForceKeyframe: forceKeyframe})
	if err != nil {
		return FrameReply{}, fmt.Errorf("capture: marshal capture request: %w", err)
	}

	env := &recorderEnvelope{Type: recorderTypeCaptureRequest, Payload: payload}
	if err := r.send(env); err != nil {
		r.healthy.Store(false)
		return FrameReply{}, err
	}

	reply, err := r.recv()
	if err != nil {
		r.healthy.Store(false)
		return FrameReply{}, err
	}
	if reply.Error != "" {
		return FrameReply{}, fmt.Errorf("capture: recorder error: %s", reply.Error)
	}

	var cr captureReplyPayload
	if err := json.Unmarshal(reply.Payload, &cr); err != nil {
		return FrameReply{}, fmt.Errorf("capture: unmarshal capture reply: %w", err)
	}

	fr := FrameReply{Width: cr.Width, Height: cr.Height, Full: cr.Full, Moves: cr.Moves}
	switch cr.Status {
	case "no_changes":
		fr.Status = screen.GrabNoChanges
	case "failure":
		fr.Status = screen.GrabFailure
	default:
		fr.Status = screen.GrabSuccess
	}
	for _, wr := range cr.Regions {
		fr.Regions = append(fr.Regions, RawDirtyRegion{X: wr.X, Y: wr.Y, W: wr.W, H: wr.H, Pixels: wr.Pixels})
	}
	return fr, nil
}

func (r *RecorderConn) Close() error { return r.conn.Close() }

func (r *RecorderConn) send(env *recorderEnvelope) error {
	env.Seq = r.sendSeq.Add(1)
	env.HMAC = r.computeHMAC(env)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("capture: marshal envelope: %w", err)
	}
	if len(data) > maxRecorderMessageSize {
		return fmt.Errorf("capture: message too large: %d", len(data))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	if _, err := r.conn.Write(header); err != nil {
		return fmt.Errorf("capture: write header: %w", err)
	}
	if _, err := r.conn.Write(data); err != nil {
		return fmt.Errorf("capture: write payload: %w", err)
	}
	return nil
}

func (r *RecorderConn) recv() (*recorderEnvelope, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r.conn, header); err != nil {
		return nil, fmt.Errorf("capture: read header: %w", err)
	}
	length := binary.BigEndian.Uint32(header)
	if length == 0 || length > maxRecorderMessageSize {
		return nil, fmt.Errorf("capture: invalid frame length %d", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r.conn, data); err != nil {
		return nil, fmt.Errorf("capture: read payload: %w", err)
	}
	var env recorderEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("capture: unmarshal envelope: %w", err)
	}
	if expected := r.computeHMAC(&env); env.HMAC != expected {
		return nil, fmt.Errorf("capture: HMAC mismatch on recorder reply")
	}
	return &env, nil
}

func (r *RecorderConn) computeHMAC(env *recorderEnvelope) string {
	mac := hmac.New(sha256.New, r.sessionKey)
	mac.Write([]byte(strconv.FormatUint(env.Seq, 10)))
	mac.Write([]byte(env.Type))
	mac.Write(env.Payload)
	return hex.EncodeToString(mac.Sum(nil))
}
