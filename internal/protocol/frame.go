package protocol

import (
	"encoding/json"
	"fmt"
)

// RPCFrame is one message exchanged over the transport's reconnecting
// channel. A client->server request sets Method and ID; the matching
// response echoes ID and carries either Payload or a transport-level
// Error. A server->client push sets Callback and leaves ID empty.
type RPCFrame struct {
	ID       string          `json:"id,omitempty"`
	Method   RPCMethod       `json:"method,omitempty"`
	Callback RPCCallback     `json:"callback,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// EncodeRequest marshals a client->server call awaiting a response
// correlated by id.
func EncodeRequest(id string, method RPCMethod, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s request: %w", method, err)
	}
	return json.Marshal(RPCFrame{ID: id, Method: method, Payload: body})
}

// EncodeResponse marshals a response to request id. A non-empty
// transportErr short-circuits Payload and is surfaced to the caller
// as a transport-level failure distinct from any domain error encoded
// inside Payload itself (e.g. TryConnectError).
func EncodeResponse(id string, payload any, transportErr string) ([]byte, error) {
	frame := RPCFrame{ID: id, Error: transportErr}
	if transportErr == "" {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal response %s: %w", id, err)
		}
		frame.Payload = body
	}
	return json.Marshal(frame)
}

// EncodePush marshals a server->client push carrying no response.
func EncodePush(callback RPCCallback, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s push: %w", callback, err)
	}
	return json.Marshal(RPCFrame{Callback: callback, Payload: body})
}

// DecodeFrame unmarshals one RPCFrame from the wire.
func DecodeFrame(data []byte) (RPCFrame, error) {
	var frame RPCFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return RPCFrame{}, fmt.Errorf("protocol: unmarshal rpc frame: %w", err)
	}
	return frame, nil
}

// DecodeFramePayload unmarshals frame's payload into dst.
func DecodeFramePayload(frame RPCFrame, dst any) error {
	if err := json.Unmarshal(frame.Payload, dst); err != nil {
		return fmt.Errorf("protocol: unmarshal rpc payload: %w", err)
	}
	return nil
}
