// Package schemas holds the wire-level shapes shared between the input synthesis
// layer and the concrete input backends.
package schemas

// MouseEventType defines the type of a mouse event.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton defines the mouse button being pressed.
type MouseButton string

const (
	ButtonNone   MouseButton = "none"
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// MouseEventData encapsulates all data for a single pointer event in screen coordinates.
type MouseEventData struct {
	Type       MouseEventType `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Button     MouseButton    `json:"button"`
	Buttons    int64          `json:"buttons"`
	ClickCount int            `json:"clickCount"`
}

// KeyModifier is a bitmask of keyboard modifiers. The values match the CDP
// Input.dispatchKeyEvent modifiers bitfield.
type KeyModifier int

const (
	ModNone  KeyModifier = 0
	ModAlt   KeyModifier = 1
	ModCtrl  KeyModifier = 2
	ModMeta  KeyModifier = 4
	ModShift KeyModifier = 8
)

// KeyEventData is a single key press with the modifiers held during it.
type KeyEventData struct {
	// Key is the DOM key value ("a", "Enter", "Backspace", "Escape", ...).
	Key       string      `json:"key"`
	Modifiers KeyModifier `json:"modifiers"`
}

// Has reports whether m is held in the event.
func (k KeyEventData) Has(m KeyModifier) bool {
	return k.Modifiers&m != 0
}
