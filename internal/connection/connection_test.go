package connection

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haefele/remoteviewer/internal/bufpool"
	"github.com/haefele/remoteviewer/internal/protocol"
	"github.com/haefele/remoteviewer/internal/screen"
)

type sentMessage struct {
	connectionID string
	msgType      protocol.MessageType
	destination  protocol.MessageDestination
	targets      []string
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeRelay) SendMessage(connectionID string, msgType protocol.MessageType, _ []byte, destination protocol.MessageDestination, targets []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{connectionID, msgType, destination, targets})
	return nil
}

func TestPresenterOnlyOperationsRejectedForViewer(t *testing.T) {
	conn := New("c1", RoleViewer, &fakeRelay{}, EventHandlers{})
	require.ErrorIs(t, conn.SendDisplayList("v1", nil), ErrInvalidState)
	require.ErrorIs(t, conn.SendFrame("d1", 1, screen.CodecJPEG, nil), ErrInvalidState)
	require.ErrorIs(t, conn.UpdateViewerSelection("v1", "d1"), ErrInvalidState)
}

func TestViewerOnlyOperationsRejectedForPresenter(t *testing.T) {
	conn := New("c1", RolePresenter, &fakeRelay{}, EventHandlers{})
	require.ErrorIs(t, conn.SelectDisplay("d1"), ErrInvalidState)
	require.ErrorIs(t, conn.SendInput(protocol.TypeInputMouseMove, nil), ErrInvalidState)
}

func TestSendFrameTargetsOnlyMatchingViewers(t *testing.T) {
	relay := &fakeRelay{}
	conn := New("c1", RolePresenter, relay, EventHandlers{})

	require.NoError(t, conn.UpdateViewerSelection("v1", "d1"))
	require.NoError(t, conn.UpdateViewerSelection("v2", "d2"))
	require.NoError(t, conn.UpdateViewerSelection("v3", "d1"))

	buf := bufpool.Rent(bufpool.Global(), 4)
	err := conn.SendFrame("d1", 1, screen.CodecJPEG, []screen.EncodedRegion{{JPEG: buf}})
	require.NoError(t, err)

	require.Len(t, relay.sent, 1)
	require.ElementsMatch(t, []string{"v1", "v3"}, relay.sent[0].targets)
	require.Equal(t, protocol.DestinationSpecificClients, relay.sent[0].destination)
}

func TestSendFrameWithNoMatchingViewersSendsNothing(t *testing.T) {
	relay := &fakeRelay{}
	conn := New("c1", RolePresenter, relay, EventHandlers{})
	require.NoError(t, conn.UpdateViewerSelection("v1", "d2"))

	err := conn.SendFrame("d1", 1, screen.CodecJPEG, nil)
	require.NoError(t, err)
	require.Empty(t, relay.sent)
}

func TestOnViewersChangedPreservesSelectionAndDropsAbsent(t *testing.T) {
	conn := New("c1", RolePresenter, &fakeRelay{}, EventHandlers{})
	require.NoError(t, conn.UpdateViewerSelection("v1", "d1"))
	require.NoError(t, conn.UpdateViewerSelection("v2", "d2"))

	var fired []Viewer
	conn2 := New("c1", RolePresenter, &fakeRelay{}, EventHandlers{
		ViewersChanged: func(v []Viewer) { fired = v },
	})
	require.NoError(t, conn2.UpdateViewerSelection("v1", "d1"))
	require.NoError(t, conn2.UpdateViewerSelection("v2", "d2"))

	conn2.OnViewersChanged([]string{"v1", "v3"})

	viewers := conn2.Viewers()
	require.Len(t, viewers, 2)
	for _, v := range viewers {
		if v.ClientID == "v1" {
			require.Equal(t, "d1", v.SelectedDisplayID)
		}
		if v.ClientID == "v3" {
			require.Empty(t, v.SelectedDisplayID)
		}
	}
	require.Len(t, fired, 2)
}

func TestCloseFiresClosedEventExactlyOnce(t *testing.T) {
	count := 0
	conn := New("c1", RolePresenter, &fakeRelay{}, EventHandlers{
		Closed: func() { count++ },
	})
	conn.Close()
	conn.Close()
	require.Equal(t, 1, count)
	require.True(t, conn.IsClosed())
}

func TestHandleMessageUpdatesDisplaysAndFiresEvent(t *testing.T) {
	var got []protocol.DisplayInfo
	conn := New("c1", RoleViewer, &fakeRelay{}, EventHandlers{
		DisplaysChanged: func(d []protocol.DisplayInfo) { got = d },
	})

	data, err := protocol.Encode(protocol.TypeDisplayList, protocol.DisplayList{
		Displays: []protocol.DisplayInfo{{ID: "d1"}},
	})
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)

	require.NoError(t, conn.HandleMessage(env))
	require.Len(t, got, 1)
	require.Equal(t, "d1", conn.Displays()[0].ID)
}

func TestHandleMessageFiresFrameReceived(t *testing.T) {
	var got protocol.ScreenFrame
	fired := false
	conn := New("c1", RoleViewer, &fakeRelay{}, EventHandlers{
		FrameReceived: func(f protocol.ScreenFrame) { got = f; fired = true },
	})

	data, err := protocol.Encode(protocol.TypeScreenFrame, protocol.ScreenFrame{DisplayID: "d1", FrameNumber: 7})
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)

	require.NoError(t, conn.HandleMessage(env))
	require.True(t, fired)
	require.Equal(t, uint64(7), got.FrameNumber)
}
