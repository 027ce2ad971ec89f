package relay

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haefele/remoteviewer/internal/protocol"
)

type recordingPusher struct {
	started  []string
	changed  []string
	stopped  []string
	messages []string
}

func (p *recordingPusher) PushConnectionStarted(clientID string, _ protocol.ConnectionStarted) {
	p.started = append(p.started, clientID)
}
func (p *recordingPusher) PushConnectionChanged(clientID string, _ protocol.ConnectionChanged) {
	p.changed = append(p.changed, clientID)
}
func (p *recordingPusher) PushConnectionStopped(clientID string, _ protocol.ConnectionStopped) {
	p.stopped = append(p.stopped, clientID)
}
func (p *recordingPusher) PushMessageReceived(clientID string, _ protocol.MessageReceived) {
	p.messages = append(p.messages, clientID)
}

func sequentialIDFactory(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func TestClientInitializeGeneratesUsernameAndPassword(t *testing.T) {
	usernames := NewUsernameRegistry()
	c := NewClientGrain("c1")
	require.NoError(t, c.Initialize(usernames))

	require.Len(t, c.Username(), usernameDigits)
	require.Len(t, c.Password(), passwordLength)
	require.Equal(t, "c1", usernames.Owner(c.Username()))
}

func TestValidatePasswordAndStartPresentingRejectsWrongPassword(t *testing.T) {
	usernames := NewUsernameRegistry()
	c := NewClientGrain("c1")
	require.NoError(t, c.Initialize(usernames))

	_, err := c.ValidatePasswordAndStartPresenting("wrong-password", sequentialIDFactory("conn"), &recordingPusher{})
	require.ErrorIs(t, err, ErrInvalidPassword)
	require.Nil(t, c.PresenterConnection())
}

func TestValidatePasswordAndStartPresentingIsCaseInsensitiveAndReusesSession(t *testing.T) {
	usernames := NewUsernameRegistry()
	c := NewClientGrain("c1")
	require.NoError(t, c.Initialize(usernames))

	pusher := &recordingPusher{}

	conn1, err := c.ValidatePasswordAndStartPresenting(strings.ToUpper(c.Password()), sequentialIDFactory("conn"), pusher)
	require.NoError(t, err)
	require.NotNil(t, conn1)

	conn2, err := c.ValidatePasswordAndStartPresenting(c.Password(), sequentialIDFactory("conn"), pusher)
	require.NoError(t, err)
	require.Same(t, conn1, conn2)
}
