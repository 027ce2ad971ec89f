// Package protocol defines the wire types shared between presenter,
// viewer, and relay: typed message envelopes, the RPC callback/method
// shapes the transport carries, and the small enumerations threaded
// through both.
package protocol

// MessageDestination selects which participants of a connection
// receive a SendMessage call.
type MessageDestination string

const (
	DestinationPresenterOnly   MessageDestination = "presenter_only"
	DestinationAllViewers      MessageDestination = "all_viewers"
	DestinationAll             MessageDestination = "all"
	DestinationAllExceptSender MessageDestination = "all_except_sender"
	DestinationSpecificClients MessageDestination = "specific_clients"
)

// TryConnectError enumerates why ConnectTo failed.
type TryConnectError string

const (
	ErrInvalidCredentials TryConnectError = "invalid_credentials"
	ErrAlreadyConnected   TryConnectError = "already_connected"
	ErrNotFound           TryConnectError = "not_found"
	ErrInternal           TryConnectError = "internal"
)

// MouseButton enumerates the buttons an Input.MouseDown/Up can carry.
type MouseButton string

const (
	MouseButtonLeft   MouseButton = "left"
	MouseButtonRight  MouseButton = "right"
	MouseButtonMiddle MouseButton = "middle"
)

// KeyModifier is a bitflag for Input.KeyDown/Up.Modifiers.
type KeyModifier uint8

const (
	ModifierShift KeyModifier = 1 << iota
	ModifierCtrl
	ModifierAlt
	ModifierWin
)
