package diff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func solidFrame(width, height int32, v byte) []byte {
	buf := make([]byte, width*height*4)
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func TestDetectIdenticalFramesReturnsNoChanges(t *testing.T) {
	cur := solidFrame(64, 64, 10)
	prev := solidFrame(64, 64, 10)

	regions, ok := Detect(cur, prev, 64, 64)
	require.True(t, ok)
	require.Empty(t, regions)
}

func TestDetectSingleBlockChange(t *testing.T) {
	w, h := int32(64), int32(64)
	cur := solidFrame(w, h, 0)
	prev := solidFrame(w, h, 0)

	// Flip one pixel inside the top-left block.
	idx := (int64(5)*int64(w) + 5) * 4
	cur[idx] = 255

	regions, ok := Detect(cur, prev, w, h)
	require.True(t, ok)
	require.Len(t, regions, 1)
	require.Equal(t, int32(0), regions[0].Left)
	require.Equal(t, int32(0), regions[0].Top)
}

func TestDetectAdjacentBlocksMerge(t *testing.T) {
	w, h := int32(128), int32(32)
	cur := solidFrame(w, h, 0)
	prev := solidFrame(w, h, 0)

	// Change a pixel in block 0 and block 1 (adjacent horizontally).
	cur[(int64(1)*int64(w)+1)*4] = 1
	cur[(int64(1)*int64(w)+40)*4] = 1

	regions, ok := Detect(cur, prev, w, h)
	require.True(t, ok)
	require.Len(t, regions, 1, "adjacent changed blocks should merge into one rect")
	require.Equal(t, int32(0), regions[0].Left)
	require.Equal(t, int32(64), regions[0].Right)
}

func TestDetectAboveAbortRatioReturnsFalse(t *testing.T) {
	w, h := int32(64), int32(64) // 2x2 = 4 blocks total
	cur := solidFrame(w, h, 0)
	prev := solidFrame(w, h, 1)
	// All 4 blocks differ: 100% > 80% abort ratio.
	_, ok := Detect(cur, prev, w, h)
	require.False(t, ok)
}

func TestDetectEdgeBlocksSmallerThanBlockSize(t *testing.T) {
	w, h := int32(40), int32(40) // not a multiple of 32: edge blocks are 8px
	cur := solidFrame(w, h, 0)
	prev := solidFrame(w, h, 0)
	cur[(int64(35)*int64(w)+35)*4] = 9

	regions, ok := Detect(cur, prev, w, h)
	require.True(t, ok)
	require.Len(t, regions, 1)
	require.LessOrEqual(t, regions[0].Right, w)
	require.LessOrEqual(t, regions[0].Bottom, h)
}
