package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Envelope is the typed wire message carried inside a
// MessageReceived callback's opaque data payload: a message type tag
// plus its JSON-encoded body.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals a typed payload into an Envelope's wire bytes.
func Encode(msgType MessageType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", msgType, err)
	}
	env := Envelope{Type: msgType, Payload: body}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	return out, nil
}

// Decode unmarshals an Envelope from data and returns its type tag
// alongside the still-encoded payload; callers switch on Type and
// call DecodePayload for the concrete struct they expect.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	return env, nil
}

// DecodePayload unmarshals env's payload into dst, a pointer to one
// of the MessageType-tagged payload structs.
func DecodePayload(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("protocol: unmarshal %s payload: %w", env.Type, err)
	}
	return nil
}

// headerSize is the length, in bytes, of the big-endian u32 frame
// length header preceding every envelope on a raw byte-stream
// transport (as opposed to a message-framed transport like
// WebSocket, which needs no extra header).
const headerSize = 4

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length header requesting an unbounded read.
const MaxFrameSize = 64 * 1024 * 1024

// WriteFrame prepends a 4-byte big-endian length header to payload
// and appends it to dst, returning the extended slice.
func WriteFrame(dst []byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("protocol: frame too large: %d bytes", len(payload))
	}
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	dst = append(dst, header...)
	dst = append(dst, payload...)
	return dst, nil
}

// ReadFrame parses one length-prefixed frame from the front of buf,
// returning the payload, the number of bytes consumed, and whether a
// complete frame was available. A false ok with a nil error means
// buf doesn't yet hold a full frame; the caller should read more.
func ReadFrame(buf []byte) (payload []byte, consumed int, ok bool, err error) {
	if len(buf) < headerSize {
		return nil, 0, false, nil
	}
	length := binary.BigEndian.Uint32(buf)
	if length > MaxFrameSize {
		return nil, 0, false, fmt.Errorf("protocol: frame length %d exceeds maximum %d", length, MaxFrameSize)
	}
	total := headerSize + int(length)
	if len(buf) < total {
		return nil, 0, false, nil
	}
	return buf[headerSize:total], total, true, nil
}
