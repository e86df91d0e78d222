package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/api/schemas"
	"github.com/xkilldash9x/resolve-agent/internal/humanoid"
)

const (
	mouseTimeout = 10 * time.Second
	keyTimeout   = 5 * time.Second
)

// Executor implements humanoid.Executor with CDP Input domain events.
type Executor struct {
	logger *zap.Logger
	run    runFunc
}

var _ humanoid.Executor = (*Executor)(nil)

func newExecutor(logger *zap.Logger, run runFunc) *Executor {
	return &Executor{logger: logger.Named("cdp_input"), run: run}
}

// Sleep waits d on the tab's clock so it is cancelled with the session.
func (e *Executor) Sleep(ctx context.Context, d time.Duration) error {
	return e.run(ctx, chromedp.Sleep(d))
}

// DispatchMouseEvent sends one pointer event.
func (e *Executor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	opCtx, cancel := context.WithTimeout(ctx, mouseTimeout)
	defer cancel()

	err := e.run(opCtx, mouseParams(data))
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		e.logger.Debug("Mouse event timed out.", zap.Duration("timeout", mouseTimeout))
		return fmt.Errorf("browser: mouse event timed out after %v: %w", mouseTimeout, opCtx.Err())
	}
	return err
}

// SendKeys types literal text.
func (e *Executor) SendKeys(ctx context.Context, keys string) error {
	opCtx, cancel := context.WithTimeout(ctx, keyTimeout)
	defer cancel()

	err := e.run(opCtx, chromedp.KeyEvent(keys))
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("browser: send keys timed out after %v: %w", keyTimeout, opCtx.Err())
	}
	return err
}

// DispatchStructuredKey presses data.Key with its modifiers held: every
// modifier goes down, then the key goes down and up, then the modifiers are
// released in reverse order.
func (e *Executor) DispatchStructuredKey(ctx context.Context, data schemas.KeyEventData) error {
	opCtx, cancel := context.WithTimeout(ctx, keyTimeout)
	defer cancel()

	if err := e.run(opCtx, keySequence(data)...); err != nil {
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("browser: key sequence timed out after %v: %w", keyTimeout, opCtx.Err())
		}
		return fmt.Errorf("browser: dispatch key %q: %w", data.Key, err)
	}
	return nil
}

func mouseParams(data schemas.MouseEventData) *input.DispatchMouseEventParams {
	button := input.None
	switch data.Button {
	case schemas.ButtonLeft:
		button = input.Left
	case schemas.ButtonRight:
		button = input.Right
	case schemas.ButtonMiddle:
		button = input.Middle
	}
	return input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(button).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))
}

type keyDef struct {
	code string
	vk   int64
	text string
}

var specialKeys = map[string]keyDef{
	"Enter":      {code: "Enter", vk: 13, text: "\r"},
	"Backspace":  {code: "Backspace", vk: 8},
	"Delete":     {code: "Delete", vk: 46},
	"Escape":     {code: "Escape", vk: 27},
	"Tab":        {code: "Tab", vk: 9},
	"ArrowLeft":  {code: "ArrowLeft", vk: 37},
	"ArrowUp":    {code: "ArrowUp", vk: 38},
	"ArrowRight": {code: "ArrowRight", vk: 39},
	"ArrowDown":  {code: "ArrowDown", vk: 40},
	"Home":       {code: "Home", vk: 36},
	"End":        {code: "End", vk: 35},
	"Pause":      {code: "Pause", vk: 19},
	" ":          {code: "Space", vk: 32, text: " "},
	"Control":    {code: "ControlLeft", vk: 17},
	"Alt":        {code: "AltLeft", vk: 18},
	"Shift":      {code: "ShiftLeft", vk: 16},
	"Meta":       {code: "MetaLeft", vk: 91},
}

// modifierOrder is the press order; release runs backwards.
var modifierOrder = []struct {
	mod schemas.KeyModifier
	key string
}{
	{schemas.ModCtrl, "Control"},
	{schemas.ModAlt, "Alt"},
	{schemas.ModShift, "Shift"},
	{schemas.ModMeta, "Meta"},
}

func lookupKey(key string) keyDef {
	if def, ok := specialKeys[key]; ok {
		return def
	}
	if len(key) == 1 {
		c := key[0]
		switch {
		case c >= 'a' && c <= 'z':
			return keyDef{code: "Key" + strings.ToUpper(key), vk: int64(c - 'a' + 'A'), text: key}
		case c >= 'A' && c <= 'Z':
			return keyDef{code: "Key" + key, vk: int64(c), text: key}
		case c >= '0' && c <= '9':
			return keyDef{code: "Digit" + key, vk: int64(c), text: key}
		}
		return keyDef{text: key}
	}
	return keyDef{}
}

func keyEvent(typ input.KeyType, key string, def keyDef, mods input.Modifier) *input.DispatchKeyEventParams {
	p := input.DispatchKeyEvent(typ).WithKey(key).WithModifiers(mods)
	if def.code != "" {
		p = p.WithCode(def.code)
	}
	if def.vk != 0 {
		p = p.WithWindowsVirtualKeyCode(def.vk).WithNativeVirtualKeyCode(def.vk)
	}
	if typ == input.KeyDown && def.text != "" {
		p = p.WithText(def.text).WithUnmodifiedText(def.text)
	}
	return p
}

func keySequence(data schemas.KeyEventData) []chromedp.Action {
	var actions []chromedp.Action
	var held input.Modifier
	var pressed []string

	for _, m := range modifierOrder {
		if !data.Has(m.mod) || data.Key == m.key {
			continue
		}
		held |= input.Modifier(m.mod)
		actions = append(actions, keyEvent(input.KeyRawDown, m.key, specialKeys[m.key], held))
		pressed = append(pressed, m.key)
	}

	def := lookupKey(data.Key)
	// Text would be inserted for a chord such as ctrl+z; only plain or shifted keys type.
	downType := input.KeyRawDown
	if def.text != "" && held&^input.ModifierShift == 0 {
		downType = input.KeyDown
	}
	actions = append(actions,
		keyEvent(downType, data.Key, def, held),
		keyEvent(input.KeyUp, data.Key, def, held))

	for i := len(pressed) - 1; i >= 0; i-- {
		key := pressed[i]
		for _, m := range modifierOrder {
			if m.key == key {
				held &^= input.Modifier(m.mod)
			}
		}
		actions = append(actions, keyEvent(input.KeyUp, key, specialKeys[key], held))
	}
	return actions
}
