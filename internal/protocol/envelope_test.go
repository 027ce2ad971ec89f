package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := Encode(TypeDisplaySelect, DisplaySelect{DisplayID: "d1"})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, TypeDisplaySelect, env.Type)

	var payload DisplaySelect
	require.NoError(t, DecodePayload(env, &payload))
	require.Equal(t, "d1", payload.DisplayID)
}

func TestScreenFrameRoundTrip(t *testing.T) {
	frame := ScreenFrame{
		DisplayID:   "d1",
		FrameNumber: 42,
		Codec:       "jpeg",
		Width:       100,
		Height:      80,
		Quality:     75,
		Regions: []FrameRegion{
			{IsKeyframe: true, W: 100, H: 80, JPEG: []byte{1, 2, 3}},
		},
	}
	data, err := Encode(TypeScreenFrame, frame)
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)

	var decoded ScreenFrame
	require.NoError(t, DecodePayload(env, &decoded))
	require.Equal(t, frame.FrameNumber, decoded.FrameNumber)
	require.Len(t, decoded.Regions, 1)
	require.Equal(t, []byte{1, 2, 3}, decoded.Regions[0].JPEG)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf []byte
	buf, err := WriteFrame(buf, []byte("hello"))
	require.NoError(t, err)
	buf, err = WriteFrame(buf, []byte("world"))
	require.NoError(t, err)

	payload, consumed, ok, err := ReadFrame(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(payload))

	buf = buf[consumed:]
	payload, consumed, ok, err = ReadFrame(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "world", string(payload))
	buf = buf[consumed:]
	require.Empty(t, buf)
}

func TestReadFrameIncompleteReturnsNotOK(t *testing.T) {
	var buf []byte
	buf, err := WriteFrame(buf, []byte("hello world"))
	require.NoError(t, err)

	_, _, ok, err := ReadFrame(buf[:2])
	require.NoError(t, err)
	require.False(t, ok)

	_, _, ok, err = ReadFrame(buf[:6])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	_, _, ok, err := ReadFrame(header)
	require.Error(t, err)
	require.False(t, ok)
}
