package relay

import (
	"errors"
	"sync"

	"github.com/haefele/remoteviewer/internal/protocol"
)

var (
	ErrAlreadyInitialized  = errors.New("relay: presenter already initialized")
	ErrUnknownClient       = errors.New("relay: sender is not a participant of this connection")
	ErrConnectionDestroyed = errors.New("relay: connection already destroyed")
	ErrNotPresenter        = errors.New("relay: operation requires the presenter")
)

// Pusher is the narrow surface a ConnectionGrain needs to deliver
// server->client callbacks. A transport implementation pushes these
// over whichever RPC channel a given client_id is connected through.
type Pusher interface {
	PushConnectionStarted(clientID string, msg protocol.ConnectionStarted)
	PushConnectionChanged(clientID string, msg protocol.ConnectionChanged)
	PushConnectionStopped(clientID string, msg protocol.ConnectionStopped)
	PushMessageReceived(clientID string, msg protocol.MessageReceived)
}

// ConnectionGrain is the single-writer, per-session actor that owns
// one presenter, its viewers, and shared properties, and routes
// SendMessage calls between them. All mutations happen under one
// mutex; IsPresenter is a pure read and may run concurrently with
// writers in spirit, though a plain Mutex keeps the read path simple.
type ConnectionGrain struct {
	connectionID string
	pusher       Pusher

	mu         sync.Mutex
	presenter  *protocol.ClientSummary
	viewers    []protocol.ClientSummary
	properties map[string]string
	destroyed  bool
}

// NewConnectionGrain creates an empty connection grain; InitPresenter
// must be called before any routing operation succeeds.
func NewConnectionGrain(connectionID string, pusher Pusher) *ConnectionGrain {
	return &ConnectionGrain{
		connectionID: connectionID,
		pusher:       pusher,
		properties:   make(map[string]string),
	}
}

// ConnectionID returns the session identifier.
func (g *ConnectionGrain) ConnectionID() string { return g.connectionID }

// InitPresenter sets the connection's presenter. Calling it a second
// time fails; the presenter slot is set exactly once for the life of
// a connection.
func (g *ConnectionGrain) InitPresenter(client protocol.ClientSummary) error {
	g.mu.Lock()
	if g.presenter != nil {
		g.mu.Unlock()
		return ErrAlreadyInitialized
	}
	g.presenter = &client
	g.mu.Unlock()

	g.pusher.PushConnectionStarted(client.ClientID, protocol.ConnectionStarted{
		ConnectionID: g.connectionID,
		IsPresenter:  true,
	})
	return nil
}

// AddViewer adds client to the viewer list (a no-op if it is already
// present, preserving the no-duplicates invariant) and notifies every
// participant of the change.
func (g *ConnectionGrain) AddViewer(client protocol.ClientSummary) error {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return ErrConnectionDestroyed
	}
	for _, v := range g.viewers {
		if v.ClientID == client.ClientID {
			g.mu.Unlock()
			return nil
		}
	}
	g.viewers = append(g.viewers, client)
	g.mu.Unlock()

	g.pusher.PushConnectionStarted(client.ClientID, protocol.ConnectionStarted{
		ConnectionID: g.connectionID,
		IsPresenter:  false,
	})
	g.broadcastConnectionChanged()
	return nil
}

// RemoveClient removes clientGUID from the connection. If the
// presenter is removed, every remaining participant (including the
// presenter) is notified of ConnectionStopped and the grain is marked
// destroyed. Otherwise the departing viewer is notified of
// ConnectionStopped and the remaining participants are renotified via
// ConnectionChanged.
func (g *ConnectionGrain) RemoveClient(clientGUID string) (destroyed bool, err error) {
	g.mu.Lock()
	if g.presenter == nil {
		g.mu.Unlock()
		return false, ErrUnknownClient
	}

	if g.presenter.ClientID == clientGUID {
		participants := append([]protocol.ClientSummary{*g.presenter}, g.viewers...)
		g.destroyed = true
		g.mu.Unlock()

		for _, p := range participants {
			g.pusher.PushConnectionStopped(p.ClientID, protocol.ConnectionStopped{ConnectionID: g.connectionID})
		}
		return true, nil
	}

	idx := -1
	for i, v := range g.viewers {
		if v.ClientID == clientGUID {
			idx = i
			break
		}
	}
	if idx == -1 {
		g.mu.Unlock()
		return false, ErrUnknownClient
	}
	g.viewers = append(g.viewers[:idx], g.viewers[idx+1:]...)
	g.mu.Unlock()

	g.pusher.PushConnectionStopped(clientGUID, protocol.ConnectionStopped{ConnectionID: g.connectionID})
	g.broadcastConnectionChanged()
	return false, nil
}

// IsPresenter reports whether clientGUID is this connection's
// presenter.
func (g *ConnectionGrain) IsPresenter(clientGUID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.presenter != nil && g.presenter.ClientID == clientGUID
}

// UpdateProperties replaces the shared property map; only the
// presenter may call it.
func (g *ConnectionGrain) UpdateProperties(sender string, props map[string]string) error {
	g.mu.Lock()
	if g.presenter == nil || g.presenter.ClientID != sender {
		g.mu.Unlock()
		return ErrNotPresenter
	}
	g.properties = props
	g.mu.Unlock()

	g.broadcastConnectionChanged()
	return nil
}

// SendMessage routes one message from sender to the participants
// selected by destination.
func (g *ConnectionGrain) SendMessage(sender string, msgType protocol.MessageType, data []byte, destination protocol.MessageDestination, targets []string) error {
	g.mu.Lock()
	if g.presenter == nil {
		g.mu.Unlock()
		return ErrUnknownClient
	}
	isSenderPresenter := g.presenter.ClientID == sender
	if !isSenderPresenter && !g.hasViewerLocked(sender) {
		g.mu.Unlock()
		return ErrUnknownClient
	}
	recipients := g.resolveRecipientsLocked(sender, isSenderPresenter, destination, targets)
	g.mu.Unlock()

	for _, r := range recipients {
		g.pusher.PushMessageReceived(r, protocol.MessageReceived{
			ConnectionID:   g.connectionID,
			SenderClientID: sender,
			MessageType:    msgType,
			Data:           data,
		})
	}
	return nil
}

func (g *ConnectionGrain) hasViewerLocked(clientGUID string) bool {
	for _, v := range g.viewers {
		if v.ClientID == clientGUID {
			return true
		}
	}
	return false
}

// resolveRecipientsLocked must be called with g.mu held.
func (g *ConnectionGrain) resolveRecipientsLocked(sender string, isSenderPresenter bool, destination protocol.MessageDestination, targets []string) []string {
	switch destination {
	case protocol.DestinationPresenterOnly:
		if isSenderPresenter {
			return nil
		}
		return []string{g.presenter.ClientID}

	case protocol.DestinationAllViewers:
		ids := make([]string, len(g.viewers))
		for i, v := range g.viewers {
			ids[i] = v.ClientID
		}
		return ids

	case protocol.DestinationAll:
		ids := make([]string, 0, len(g.viewers)+1)
		ids = append(ids, g.presenter.ClientID)
		for _, v := range g.viewers {
			ids = append(ids, v.ClientID)
		}
		return ids

	case protocol.DestinationAllExceptSender:
		ids := make([]string, 0, len(g.viewers)+1)
		if g.presenter.ClientID != sender {
			ids = append(ids, g.presenter.ClientID)
		}
		for _, v := range g.viewers {
			if v.ClientID != sender {
				ids = append(ids, v.ClientID)
			}
		}
		return ids

	case protocol.DestinationSpecificClients:
		participants := make(map[string]struct{}, len(g.viewers)+1)
		participants[g.presenter.ClientID] = struct{}{}
		for _, v := range g.viewers {
			participants[v.ClientID] = struct{}{}
		}
		ids := make([]string, 0, len(targets))
		for _, t := range targets {
			if _, ok := participants[t]; ok {
				ids = append(ids, t)
			}
		}
		return ids

	default:
		return nil
	}
}

// buildInfoLocked must be called with g.mu held.
func (g *ConnectionGrain) buildInfoLocked() protocol.ConnectionInfo {
	viewers := make([]protocol.ClientSummary, len(g.viewers))
	copy(viewers, g.viewers)
	return protocol.ConnectionInfo{
		ConnectionID: g.connectionID,
		Presenter:    *g.presenter,
		Viewers:      viewers,
		Properties:   g.properties,
	}
}

func (g *ConnectionGrain) broadcastConnectionChanged() {
	g.mu.Lock()
	if g.presenter == nil {
		g.mu.Unlock()
		return
	}
	info := g.buildInfoLocked()
	recipients := make([]string, 0, len(g.viewers)+1)
	recipients = append(recipients, g.presenter.ClientID)
	for _, v := range g.viewers {
		recipients = append(recipients, v.ClientID)
	}
	g.mu.Unlock()

	msg := protocol.ConnectionChanged{Info: info}
	for _, r := range recipients {
		g.pusher.PushConnectionChanged(r, msg)
	}
}
