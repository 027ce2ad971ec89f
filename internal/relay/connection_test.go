package relay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haefele/remoteviewer/internal/protocol"
)

func TestInitPresenterFailsOnSecondCall(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)

	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))
	require.ErrorIs(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p2"}), ErrAlreadyInitialized)
	require.Equal(t, []string{"p1"}, pusher.started)
}

func TestAddViewerIsIdempotentAndBroadcasts(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))

	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"})) // no duplicate

	require.True(t, g.IsPresenter("p1"))
	require.False(t, g.IsPresenter("v1"))
	require.ElementsMatch(t, []string{"v1"}, pusher.started[1:])
	require.NotEmpty(t, pusher.changed)
}

func TestRemovePresenterDestroysConnectionAndNotifiesAll(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"}))

	destroyed, err := g.RemoveClient("p1")
	require.NoError(t, err)
	require.True(t, destroyed)
	require.ElementsMatch(t, []string{"p1", "v1"}, pusher.stopped)
}

func TestRemoveViewerNotifiesDepartingAndBroadcastsToRemaining(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v2"}))

	destroyed, err := g.RemoveClient("v1")
	require.NoError(t, err)
	require.False(t, destroyed)
	require.Equal(t, []string{"v1"}, pusher.stopped)
}

func TestRemoveUnknownClientErrors(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))

	_, err := g.RemoveClient("ghost")
	require.ErrorIs(t, err, ErrUnknownClient)
}

func TestSendMessagePresenterOnlyDestinationIgnoresPresenterSender(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"}))

	require.NoError(t, g.SendMessage("p1", protocol.TypeInputMouseMove, nil, protocol.DestinationPresenterOnly, nil))
	require.Empty(t, pusher.messages)

	require.NoError(t, g.SendMessage("v1", protocol.TypeInputMouseMove, nil, protocol.DestinationPresenterOnly, nil))
	require.Equal(t, []string{"p1"}, pusher.messages)
}

func TestSendMessageAllViewersDestination(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v2"}))

	require.NoError(t, g.SendMessage("p1", protocol.TypeScreenFrame, nil, protocol.DestinationAllViewers, nil))
	require.ElementsMatch(t, []string{"v1", "v2"}, pusher.messages)
}

func TestSendMessageAllExceptSenderExcludesSender(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v2"}))

	require.NoError(t, g.SendMessage("v1", protocol.TypeInputMouseMove, nil, protocol.DestinationAllExceptSender, nil))
	require.ElementsMatch(t, []string{"p1", "v2"}, pusher.messages)
}

func TestSendMessageSpecificClientsIntersectsTargets(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v2"}))

	require.NoError(t, g.SendMessage("p1", protocol.TypeScreenFrame, nil, protocol.DestinationSpecificClients, []string{"v1", "ghost"}))
	require.Equal(t, []string{"v1"}, pusher.messages)
}

func TestSendMessageFromUnknownSenderFails(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))

	err := g.SendMessage("ghost", protocol.TypeInputMouseMove, nil, protocol.DestinationPresenterOnly, nil)
	require.ErrorIs(t, err, ErrUnknownClient)
}

func TestUpdatePropertiesRequiresPresenter(t *testing.T) {
	pusher := &recordingPusher{}
	g := NewConnectionGrain("conn1", pusher)
	require.NoError(t, g.InitPresenter(protocol.ClientSummary{ClientID: "p1"}))
	require.NoError(t, g.AddViewer(protocol.ClientSummary{ClientID: "v1"}))

	require.ErrorIs(t, g.UpdateProperties("v1", map[string]string{"k": "v"}), ErrNotPresenter)
	require.NoError(t, g.UpdateProperties("p1", map[string]string{"k": "v"}))
}
