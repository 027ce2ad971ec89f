package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUsernameTryClaimSucceedsOnlyWhenUnowned(t *testing.T) {
	r := NewUsernameRegistry()
	require.True(t, r.TryClaim("alice", "c1"))
	require.False(t, r.TryClaim("alice", "c2"))
	require.Equal(t, "c1", r.Owner("alice"))
}

func TestUsernameReleaseRequiresOwnership(t *testing.T) {
	r := NewUsernameRegistry()
	require.True(t, r.TryClaim("alice", "c1"))
	require.False(t, r.Release("alice", "c2"))
	require.True(t, r.Release("alice", "c1"))
	require.Empty(t, r.Owner("alice"))
	require.True(t, r.TryClaim("alice", "c2"))
}
