package action

import "strings"

// MaxDelta bounds the magnitude of a single drag along each axis, in pixels.
const MaxDelta = 200.0

var modifierKeys = map[string]struct{}{"ctrl": {}, "alt": {}, "shift": {}}

var allowedKeys = map[string]struct{}{
	"ctrl": {}, "alt": {}, "shift": {},
	"enter": {}, "backspace": {}, "delete": {}, "esc": {}, "tab": {},
	"left": {}, "right": {}, "up": {}, "down": {},
	"z": {}, "a": {}, "c": {}, "v": {}, "x": {},
	"0": {}, "1": {}, "2": {}, "3": {}, "4": {},
	"5": {}, "6": {}, "7": {}, "8": {}, "9": {},
}

// TargetSet answers whether a target name has been calibrated.
type TargetSet interface {
	HasTarget(name string) bool
}

// Clamp bounds a Drag's deltas to ±MaxDelta. Other actions are returned as is.
func Clamp(a Action) Action {
	d, ok := a.(Drag)
	if !ok {
		return a
	}
	d.DX = clamp(d.DX, -MaxDelta, MaxDelta)
	d.DY = clamp(d.DY, -MaxDelta, MaxDelta)
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate checks a against the safety rules. A nil targets skips the
// calibration lookup for drags.
func Validate(a Action, targets TargetSet) error {
	switch v := a.(type) {
	case Drag:
		if v.Target == "" {
			return newError(CodeTarget, nil, "Missing target for drag action.")
		}
		if targets != nil && !targets.HasTarget(v.Target) {
			return newError(CodeTarget, nil, "Unknown target '%s'.", v.Target)
		}
	case Keypress:
		if len(v.Keys) == 0 {
			return newError(CodeKeys, nil, "Missing keys for keypress action.")
		}
		if !KeysAllowed(v.Keys) {
			return newError(CodeKeys, nil, "Disallowed key combo: %v.", v.Keys)
		}
		if n := mainKeys(v.Keys); n > 1 {
			return newError(CodeKeys, nil, "Key combo %v presses %d non-modifier keys; send them as separate keypress actions.", v.Keys, n)
		}
	}
	return nil
}

// KeysAllowed reports whether every key is on the allow-list, ignoring case.
func KeysAllowed(keys []string) bool {
	for _, k := range keys {
		if _, ok := allowedKeys[strings.ToLower(strings.TrimSpace(k))]; !ok {
			return false
		}
	}
	return true
}

// mainKeys counts the keys in a combo that are not modifiers.
func mainKeys(keys []string) int {
	n := 0
	for _, k := range keys {
		if _, ok := modifierKeys[strings.ToLower(strings.TrimSpace(k))]; !ok {
			n++
		}
	}
	return n
}
