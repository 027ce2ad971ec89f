// Package connection implements the per-session role-polymorphic
// connection object shared by presenter and viewer clients: mutable
// viewer/display lists under a mutex, typed message dispatch, and the
// event callbacks both roles fire on state changes.
package connection

import (
	"errors"
	"sync"

	"github.com/haefele/remoteviewer/internal/protocol"
	"github.com/haefele/remoteviewer/internal/screen"
)

// Role is which side of a session this Connection represents.
type Role int

const (
	RolePresenter Role = iota
	RoleViewer
)

func (r Role) String() string {
	if r == RolePresenter {
		return "presenter"
	}
	return "viewer"
}

// ErrInvalidState is returned when an operation is invoked on the
// wrong role (e.g. select_display on a presenter connection).
var ErrInvalidState = errors.New("connection: invalid state for role")

// Viewer is the presenter-side record of one connected viewer.
type Viewer struct {
	ClientID          string
	SelectedDisplayID string
}

// RelaySender is the narrow surface a Connection needs from the
// relay transport to deliver outbound messages.
type RelaySender interface {
	SendMessage(connectionID string, msgType protocol.MessageType, data []byte, destination protocol.MessageDestination, targets []string) error
}

// EventHandlers are the callbacks a Connection fires as its state
// changes. Any handler left nil is simply not called.
type EventHandlers struct {
	Closed          func()
	ViewersChanged  func([]Viewer)
	DisplaysChanged func([]protocol.DisplayInfo)
	FrameReceived   func(protocol.ScreenFrame)
	InputReceived   func(msgType protocol.MessageType, payload []byte)
}

// Connection is a single session's presenter or viewer endpoint.
type Connection struct {
	connectionID string
	role         Role
	relay        RelaySender
	handlers     EventHandlers

	mu       sync.Mutex
	isClosed bool
	viewers  []Viewer               // presenter-only
	displays []protocol.DisplayInfo // viewer-only
}

// New builds a Connection for connectionID in the given role.
func New(connectionID string, role Role, relay RelaySender, handlers EventHandlers) *Connection {
	return &Connection{
		connectionID: connectionID,
		role:         role,
		relay:        relay,
		handlers:     handlers,
	}
}

// ConnectionID returns the session identifier.
func (c *Connection) ConnectionID() string { return c.connectionID }

// Role returns whether this endpoint is the Presenter or a Viewer.
func (c *Connection) Role() Role { return c.role }

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

// Viewers returns a snapshot copy of the presenter's viewer list.
func (c *Connection) Viewers() []Viewer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Viewer, len(c.viewers))
	copy(out, c.viewers)
	return out
}

// Displays returns a snapshot copy of the viewer's known display list.
func (c *Connection) Displays() []protocol.DisplayInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.DisplayInfo, len(c.displays))
	copy(out, c.displays)
	return out
}

// Close marks the connection closed and fires the Closed event
// exactly once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return
	}
	c.isClosed = true
	c.mu.Unlock()

	if c.handlers.Closed != nil {
		c.handlers.Closed()
	}
}

// SendDisplayList sends the current display set to one viewer.
// Presenter-only.
func (c *Connection) SendDisplayList(viewerID string, displays []protocol.DisplayInfo) error {
	if c.role != RolePresenter {
		return ErrInvalidState
	}
	data, err := protocol.Encode(protocol.TypeDisplayList, protocol.DisplayList{Displays: displays})
	if err != nil {
		return err
	}
	return c.relay.SendMessage(c.connectionID, protocol.TypeDisplayList, data, protocol.DestinationSpecificClients, []string{viewerID})
}

// SendFrame delivers one encoded frame to every viewer currently
// selecting displayID. Presenter-only.
func (c *Connection) SendFrame(displayID string, frameNumber uint64, codec screen.FrameCodec, regions []screen.EncodedRegion) error {
	if c.role != RolePresenter {
		return ErrInvalidState
	}

	targets := c.viewersSelecting(displayID)
	if len(targets) == 0 {
		return nil
	}

	wireRegions := make([]protocol.FrameRegion, 0, len(regions))
	for _, r := range regions {
		jpegBytes, err := r.JPEG.Bytes()
		if err != nil {
			return err
		}
		wireRegions = append(wireRegions, protocol.FrameRegion{
			IsKeyframe: r.IsKeyframe,
			X:          r.X,
			Y:          r.Y,
			W:          r.W,
			H:          r.H,
			JPEG:       jpegBytes,
		})
	}

	frame := protocol.ScreenFrame{
		DisplayID:   displayID,
		FrameNumber: frameNumber,
		Codec:       string(codec),
		Regions:     wireRegions,
	}
	data, err := protocol.Encode(protocol.TypeScreenFrame, frame)
	if err != nil {
		return err
	}
	return c.relay.SendMessage(c.connectionID, protocol.TypeScreenFrame, data, protocol.DestinationSpecificClients, targets)
}

// SelectDisplay requests the presenter start (or keep) streaming
// displayID to this viewer. Viewer-only.
func (c *Connection) SelectDisplay(displayID string) error {
	if c.role != RoleViewer {
		return ErrInvalidState
	}
	data, err := protocol.Encode(protocol.TypeDisplaySelect, protocol.DisplaySelect{DisplayID: displayID})
	if err != nil {
		return err
	}
	return c.relay.SendMessage(c.connectionID, protocol.TypeDisplaySelect, data, protocol.DestinationPresenterOnly, nil)
}

// SendInput routes one input event to the presenter. Viewer-only.
func (c *Connection) SendInput(msgType protocol.MessageType, data []byte) error {
	if c.role != RoleViewer {
		return ErrInvalidState
	}
	return c.relay.SendMessage(c.connectionID, msgType, data, protocol.DestinationPresenterOnly, nil)
}

// HandleMessage dispatches one received envelope: it decodes the
// typed payload, updates local state, and fires the matching event.
func (c *Connection) HandleMessage(env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeDisplayList:
		var payload protocol.DisplayList
		if err := protocol.DecodePayload(env, &payload); err != nil {
			return err
		}
		c.mu.Lock()
		c.displays = payload.Displays
		c.mu.Unlock()
		if c.handlers.DisplaysChanged != nil {
			c.handlers.DisplaysChanged(payload.Displays)
		}

	case protocol.TypeScreenFrame:
		var payload protocol.ScreenFrame
		if err := protocol.DecodePayload(env, &payload); err != nil {
			return err
		}
		if c.handlers.FrameReceived != nil {
			c.handlers.FrameReceived(payload)
		}

	case protocol.TypeDisplaySelect:
		var payload protocol.DisplaySelect
		if err := protocol.DecodePayload(env, &payload); err != nil {
			return err
		}
		// The sender's client_id is supplied by the caller via a
		// dedicated method, not derivable from the envelope alone;
		// callers needing to update viewer selection should use
		// UpdateViewerSelection directly.

	default:
		if c.handlers.InputReceived != nil {
			c.handlers.InputReceived(env.Type, env.Payload)
		}
	}
	return nil
}

// UpdateViewerSelection records that viewerID now has displayID
// selected, inserting a new Viewer record if none existed yet.
// Presenter-only.
func (c *Connection) UpdateViewerSelection(viewerID, displayID string) error {
	if c.role != RolePresenter {
		return ErrInvalidState
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.viewers {
		if c.viewers[i].ClientID == viewerID {
			c.viewers[i].SelectedDisplayID = displayID
			return nil
		}
	}
	c.viewers = append(c.viewers, Viewer{ClientID: viewerID, SelectedDisplayID: displayID})
	return nil
}

// OnViewersChanged rebuilds the viewer list from newViewerIDs,
// preserving each existing viewer's SelectedDisplayID and dropping
// any viewer absent from the new set. Presenter-only.
func (c *Connection) OnViewersChanged(newViewerIDs []string) {
	if c.role != RolePresenter {
		return
	}

	c.mu.Lock()
	existing := make(map[string]string, len(c.viewers))
	for _, v := range c.viewers {
		existing[v.ClientID] = v.SelectedDisplayID
	}

	rebuilt := make([]Viewer, 0, len(newViewerIDs))
	for _, id := range newViewerIDs {
		rebuilt = append(rebuilt, Viewer{ClientID: id, SelectedDisplayID: existing[id]})
	}
	c.viewers = rebuilt
	snapshot := make([]Viewer, len(rebuilt))
	copy(snapshot, rebuilt)
	c.mu.Unlock()

	if c.handlers.ViewersChanged != nil {
		c.handlers.ViewersChanged(snapshot)
	}
}

// viewersSelecting returns the client IDs of every viewer whose
// SelectedDisplayID equals displayID.
func (c *Connection) viewersSelecting(displayID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, v := range c.viewers {
		if v.SelectedDisplayID == displayID {
			ids = append(ids, v.ClientID)
		}
	}
	return ids
}
