package protocol

// The transport carries a small fixed set of server->client callbacks
// and client->server methods, each with its own payload shape. A
// transport implementation (internal/transport) dispatches these by
// name the same way Envelope dispatches message types by MessageType.

// RPCMethod names a client->server call.
type RPCMethod string

const (
	MethodConnectTo   RPCMethod = "ConnectTo"
	MethodSendMessage RPCMethod = "SendMessage"
	MethodDisconnect  RPCMethod = "Disconnect"
)

// RPCCallback names a server->client push.
type RPCCallback string

const (
	CallbackCredentialsAssigned RPCCallback = "CredentialsAssigned"
	CallbackConnectionStarted   RPCCallback = "ConnectionStarted"
	CallbackConnectionChanged   RPCCallback = "ConnectionChanged"
	CallbackConnectionStopped   RPCCallback = "ConnectionStopped"
	CallbackMessageReceived     RPCCallback = "MessageReceived"
)

// ConnectToRequest is the ConnectTo method's parameters.
type ConnectToRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ConnectToResponse carries either a successful connection_id or a
// TryConnectError.
type ConnectToResponse struct {
	ConnectionID string          `json:"connection_id,omitempty"`
	Error        TryConnectError `json:"error,omitempty"`
}

// SendMessageRequest is the SendMessage method's parameters: an
// opaque typed envelope plus routing instructions.
type SendMessageRequest struct {
	ConnectionID string             `json:"connection_id"`
	Type         MessageType        `json:"type"`
	Data         []byte             `json:"data"`
	Destination  MessageDestination `json:"destination"`
	Targets      []string           `json:"targets,omitempty"`
}

// DisconnectRequest is the Disconnect method's parameters.
type DisconnectRequest struct {
	ConnectionID string `json:"connection_id"`
}

// CredentialsAssigned is pushed to a client on (re)connect with its
// freshly issued identity.
type CredentialsAssigned struct {
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ConnectionStarted is pushed to both roles when a connection grain
// is created or joined.
type ConnectionStarted struct {
	ConnectionID string `json:"connection_id"`
	IsPresenter  bool   `json:"is_presenter"`
}

// ClientSummary is one participant entry within a ConnectionInfo.
type ClientSummary struct {
	ClientID    string `json:"client_id"`
	DisplayName string `json:"display_name"`
}

// ConnectionInfo describes a connection's full participant roster,
// broadcast to everyone whenever it changes.
type ConnectionInfo struct {
	ConnectionID string            `json:"connection_id"`
	Presenter    ClientSummary     `json:"presenter"`
	Viewers      []ClientSummary   `json:"viewers"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// ConnectionChanged is pushed to every participant when the roster
// changes.
type ConnectionChanged struct {
	Info ConnectionInfo `json:"info"`
}

// ConnectionStopped is pushed to every participant when the
// connection is torn down.
type ConnectionStopped struct {
	ConnectionID string `json:"connection_id"`
}

// MessageReceived is pushed to a client carrying one routed Envelope.
type MessageReceived struct {
	ConnectionID   string      `json:"connection_id"`
	SenderClientID string      `json:"sender_client_id"`
	MessageType    MessageType `json:"message_type"`
	Data           []byte      `json:"data"`
}
