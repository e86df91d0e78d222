// Package action defines the closed vocabulary of corrective input actions a
// model may request, together with parsing, clamping and safety validation.
//
// Every payload coming back from the model passes through Parse, Clamp and
// Validate before any input is synthesized. Validate is the security boundary:
// nothing outside the key allow-list is ever pressed.
package action

import "strconv"

// Type names an action kind on the wire.
type Type string

const (
	TypeDrag      Type = "drag"
	TypeSetSlider Type = "set_slider"
	TypeKeypress  Type = "keypress"
)

// SupportedTypes lists the kinds the executor can dispatch, in the order they
// are advertised to the model.
var SupportedTypes = []Type{TypeDrag, TypeSetSlider, TypeKeypress}

// Action is one of Drag, SetSlider, Keypress or Unsupported.
type Action interface {
	Kind() Type
	TargetName() string
	Why() string
	sealed()
}

// Drag moves the pointer to Target, presses, moves by (DX, DY) and releases.
type Drag struct {
	Target string
	DX, DY float64
	Reason string
}

// SetSlider types an absolute Value into the numeric field at Target.
type SetSlider struct {
	Target string
	Value  float64
	Reason string
}

// Keypress presses Keys together as one hotkey.
type Keypress struct {
	Target string
	Keys   []string
	Reason string
}

// Unsupported is a well-formed payload whose type the executor does not know.
// It is skipped at execution time rather than rejected.
type Unsupported struct {
	TypeName string
	Target   string
	Reason   string
}

func (a Drag) Kind() Type         { return TypeDrag }
func (a Drag) TargetName() string { return a.Target }
func (a Drag) Why() string        { return a.Reason }
func (Drag) sealed()              {}

func (a SetSlider) Kind() Type         { return TypeSetSlider }
func (a SetSlider) TargetName() string { return a.Target }
func (a SetSlider) Why() string        { return a.Reason }
func (SetSlider) sealed()              {}

func (a Keypress) Kind() Type         { return TypeKeypress }
func (a Keypress) TargetName() string { return a.Target }
func (a Keypress) Why() string        { return a.Reason }
func (Keypress) sealed()              {}

func (a Unsupported) Kind() Type         { return Type(a.TypeName) }
func (a Unsupported) TargetName() string { return a.Target }
func (a Unsupported) Why() string        { return a.Reason }
func (Unsupported) sealed()              {}

// ToMap renders a into its wire shape, for logs and event streams.
func ToMap(a Action) map[string]any {
	m := map[string]any{
		"type":   string(a.Kind()),
		"target": a.TargetName(),
	}
	if a.Why() != "" {
		m["reason"] = a.Why()
	}
	switch v := a.(type) {
	case Drag:
		m["dx"] = v.DX
		m["dy"] = v.DY
	case SetSlider:
		m["value"] = v.Value
	case Keypress:
		m["keys"] = append([]string(nil), v.Keys...)
	}
	return m
}

// FormatValue renders a slider value the way it is typed into the application:
// three decimals with trailing zeros and a trailing dot removed.
func FormatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
