package humanoid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/resolve-agent/api/schemas"
)

var modifierKeys = map[string]schemas.KeyModifier{
	"ctrl":    schemas.ModCtrl,
	"control": schemas.ModCtrl,
	"alt":     schemas.ModAlt,
	"option":  schemas.ModAlt,
	"shift":   schemas.ModShift,
	"meta":    schemas.ModMeta,
	"cmd":     schemas.ModMeta,
}

var modifierNames = map[schemas.KeyModifier]string{
	schemas.ModCtrl:  "Control",
	schemas.ModAlt:   "Alt",
	schemas.ModShift: "Shift",
	schemas.ModMeta:  "Meta",
}

// namedKeys maps lower-case key names onto DOM key values.
var namedKeys = map[string]string{
	"enter":     "Enter",
	"return":    "Enter",
	"backspace": "Backspace",
	"delete":    "Delete",
	"del":       "Delete",
	"esc":       "Escape",
	"escape":    "Escape",
	"tab":       "Tab",
	"left":      "ArrowLeft",
	"right":     "ArrowRight",
	"up":        "ArrowUp",
	"down":      "ArrowDown",
	"space":     " ",
	"pause":     "Pause",
	"home":      "Home",
	"end":       "End",
}

// ParseCombo turns a list such as ["ctrl", "shift", "z"] into a single key
// event. At most one non-modifier key is allowed; a combo of only modifiers
// presses the last one.
func ParseCombo(keys []string) (schemas.KeyEventData, error) {
	var ev schemas.KeyEventData
	var lastMod schemas.KeyModifier
	for _, raw := range keys {
		k := strings.ToLower(strings.TrimSpace(raw))
		if k == "" {
			continue
		}
		if m, ok := modifierKeys[k]; ok {
			ev.Modifiers |= m
			lastMod = m
			continue
		}
		if ev.Key != "" {
			return schemas.KeyEventData{}, fmt.Errorf("humanoid: combo %v has more than one non-modifier key", keys)
		}
		ev.Key = KeyName(k)
	}
	if ev.Key == "" {
		if lastMod == schemas.ModNone {
			return schemas.KeyEventData{}, fmt.Errorf("humanoid: empty key combo")
		}
		ev.Key = modifierNames[lastMod]
	}
	return ev, nil
}

// KeyName returns the DOM key value for a lower-case key name.
func KeyName(k string) string {
	if n, ok := namedKeys[k]; ok {
		return n
	}
	return k
}

// Hotkey presses keys together as one combination.
func (h *Humanoid) Hotkey(ctx context.Context, keys ...string) error {
	ev, err := ParseCombo(keys)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.executor.DispatchStructuredKey(ctx, ev); err != nil {
		return fmt.Errorf("humanoid: hotkey %v: %w", keys, err)
	}
	return h.Pause(ctx, h.keyHold())
}

// Type sends text one character at a time with a short dwell after each.
func (h *Humanoid) Type(ctx context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.executor.SendKeys(ctx, string(r)); err != nil {
			return fmt.Errorf("humanoid: failed to send key %q: %w", r, err)
		}
		if err := h.Pause(ctx, h.keyHold()); err != nil {
			return err
		}
	}
	return nil
}

func (h *Humanoid) keyHold() time.Duration {
	mean := h.cfg.KeyHoldMean
	if !h.cfg.Enabled {
		return mean
	}
	d := mean + time.Duration(h.rng.NormFloat64()*float64(mean)/4)
	if d < 20*time.Millisecond {
		d = 20 * time.Millisecond
	}
	return d
}
