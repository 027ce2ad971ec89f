package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haefele/remoteviewer/internal/protocol"
	"github.com/haefele/remoteviewer/internal/relay"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	registry := relay.NewRegistry()
	srv := NewServer(registry)
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	return srv, url
}

func newTestClient(t *testing.T, url string, callbacks Callbacks) *Client {
	t.Helper()
	c := New(url, callbacks)
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestClientReceivesCredentialsOnConnect(t *testing.T) {
	_, url := startTestServer(t)

	var received protocol.CredentialsAssigned
	var gotCreds bool
	newTestClient(t, url, Callbacks{
		CredentialsAssigned: func(msg protocol.CredentialsAssigned) {
			received = msg
			gotCreds = true
		},
	})

	waitFor(t, func() bool { return gotCreds })
	require.Len(t, received.Username, 10)
	require.Len(t, received.Password, 8)
}

func TestConnectToRoutesPresenterAndViewer(t *testing.T) {
	_, url := startTestServer(t)

	var presenterUsername, presenterPassword string
	var presenterReady bool
	var started protocol.ConnectionStarted
	var gotStarted bool
	newTestClient(t, url, Callbacks{
		CredentialsAssigned: func(msg protocol.CredentialsAssigned) {
			presenterUsername = msg.Username
			presenterPassword = msg.Password
			presenterReady = true
		},
		ConnectionStarted: func(msg protocol.ConnectionStarted) {
			started = msg
			gotStarted = true
		},
	})
	waitFor(t, func() bool { return presenterReady })

	viewer := newTestClient(t, url, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	connectionID, tryErr, err := viewer.ConnectTo(ctx, presenterUsername, presenterPassword)
	require.NoError(t, err)
	require.Empty(t, tryErr)
	require.NotEmpty(t, connectionID)

	waitFor(t, func() bool { return gotStarted })
	require.True(t, started.IsPresenter)
	require.Equal(t, connectionID, started.ConnectionID)
}

func TestConnectToRejectsWrongPassword(t *testing.T) {
	_, url := startTestServer(t)

	var presenterUsername string
	var presenterReady bool
	newTestClient(t, url, Callbacks{
		CredentialsAssigned: func(msg protocol.CredentialsAssigned) {
			presenterUsername = msg.Username
			presenterReady = true
		},
	})
	waitFor(t, func() bool { return presenterReady })

	viewer := newTestClient(t, url, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, tryErr, err := viewer.ConnectTo(ctx, presenterUsername, "wrong-password")
	require.NoError(t, err)
	require.Equal(t, protocol.ErrInvalidCredentials, tryErr)
}

func TestSendMessageDeliversToPresenter(t *testing.T) {
	_, url := startTestServer(t)

	var presenterUsername, presenterPassword string
	var presenterReady bool
	var gotMessage bool
	var received protocol.MessageReceived
	newTestClient(t, url, Callbacks{
		CredentialsAssigned: func(msg protocol.CredentialsAssigned) {
			presenterUsername = msg.Username
			presenterPassword = msg.Password
			presenterReady = true
		},
		MessageReceived: func(msg protocol.MessageReceived) {
			received = msg
			gotMessage = true
		},
	})
	waitFor(t, func() bool { return presenterReady })

	viewer := newTestClient(t, url, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	connectionID, _, err := viewer.ConnectTo(ctx, presenterUsername, presenterPassword)
	require.NoError(t, err)

	require.NoError(t, viewer.SendMessage(connectionID, protocol.TypeScreenFrame, []byte("hello"), protocol.DestinationPresenterOnly, nil))

	waitFor(t, func() bool { return gotMessage })
	require.Equal(t, []byte("hello"), received.Data)
	require.Equal(t, connectionID, received.ConnectionID)
}

func TestDisconnectTearsDownConnection(t *testing.T) {
	_, url := startTestServer(t)

	var presenterUsername, presenterPassword string
	var presenterReady bool
	newTestClient(t, url, Callbacks{
		CredentialsAssigned: func(msg protocol.CredentialsAssigned) {
			presenterUsername = msg.Username
			presenterPassword = msg.Password
			presenterReady = true
		},
	})
	waitFor(t, func() bool { return presenterReady })

	var gotStopped bool
	viewer := newTestClient(t, url, Callbacks{
		ConnectionStopped: func(protocol.ConnectionStopped) {
			gotStopped = true
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	connectionID, _, err := viewer.ConnectTo(ctx, presenterUsername, presenterPassword)
	require.NoError(t, err)

	require.NoError(t, viewer.Disconnect(ctx, connectionID))
	waitFor(t, func() bool { return gotStopped })
}
