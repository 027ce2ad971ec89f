package protocol

// MessageType names one typed payload carried inside an Envelope.
type MessageType string

const (
	TypeDisplayRequestList MessageType = "Display.RequestList"
	TypeDisplayList        MessageType = "Display.List"
	TypeDisplaySelect      MessageType = "Display.Select"
	TypeScreenFrame        MessageType = "Screen.Frame"
	TypeInputMouseMove     MessageType = "Input.MouseMove"
	TypeInputMouseDown     MessageType = "Input.MouseDown"
	TypeInputMouseUp       MessageType = "Input.MouseUp"
	TypeInputMouseWheel    MessageType = "Input.MouseWheel"
	TypeInputKeyDown       MessageType = "Input.KeyDown"
	TypeInputKeyUp         MessageType = "Input.KeyUp"
)

// DisplayInfo describes one capturable display as sent to viewers.
type DisplayInfo struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name"`
	IsPrimary    bool   `json:"is_primary"`
	Left         int32  `json:"left"`
	Top          int32  `json:"top"`
	Width        int32  `json:"width"`
	Height       int32  `json:"height"`
}

// DisplayRequestList is sent viewer->presenter to ask for the current
// display list.
type DisplayRequestList struct{}

// DisplayList is sent presenter->viewer (SpecificClients) in response
// to DisplayRequestList or whenever the display set changes.
type DisplayList struct {
	Displays []DisplayInfo `json:"displays"`
}

// DisplaySelect is sent viewer->presenter to change which display the
// viewer wants frames for.
type DisplaySelect struct {
	DisplayID string `json:"display_id"`
}

// FrameRegion is the wire form of screen.EncodedRegion: JPEG bytes
// travel as a plain byte slice (base64-encoded by encoding/json).
type FrameRegion struct {
	IsKeyframe bool   `json:"is_keyframe"`
	X          int32  `json:"x"`
	Y          int32  `json:"y"`
	W          int32  `json:"w"`
	H          int32  `json:"h"`
	JPEG       []byte `json:"jpeg"`
}

// ScreenFrame is sent presenter->viewer for every produced frame.
type ScreenFrame struct {
	DisplayID   string        `json:"display_id"`
	FrameNumber uint64        `json:"frame_number"`
	TimestampMs int64         `json:"timestamp_ms"`
	Codec       string        `json:"codec"`
	Width       int32         `json:"width"`
	Height      int32         `json:"height"`
	Quality     uint8         `json:"quality"`
	Regions     []FrameRegion `json:"regions"`
}

// InputMouseMove carries a normalized (0..1) cursor position relative
// to the viewer's selected display.
type InputMouseMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InputMouseDown/InputMouseUp carry a button press/release at a
// normalized position.
type InputMouseDown struct {
	Button MouseButton `json:"button"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
}

type InputMouseUp struct {
	Button MouseButton `json:"button"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
}

// InputMouseWheel carries a scroll delta at a normalized position.
type InputMouseWheel struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// InputKeyDown/InputKeyUp carry a virtual key code, modifier
// bitflags, and optional hardware scan-code detail.
type InputKeyDown struct {
	KeyCode    uint16      `json:"key_code"`
	Modifiers  KeyModifier `json:"modifiers"`
	ScanCode   *uint16     `json:"scan_code,omitempty"`
	IsExtended *bool       `json:"is_extended,omitempty"`
}

type InputKeyUp struct {
	KeyCode    uint16      `json:"key_code"`
	Modifiers  KeyModifier `json:"modifiers"`
	ScanCode   *uint16     `json:"scan_code,omitempty"`
	IsExtended *bool       `json:"is_extended,omitempty"`
}
