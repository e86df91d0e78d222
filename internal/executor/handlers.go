package executor

import (
	"context"
	"time"

	"github.com/xkilldash9x/resolve-agent/internal/action"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
)

func (e *ActionExecutor) keypress(ctx context.Context, a action.Action, _ *calibration.Profile) error {
	k, ok := a.(action.Keypress)
	if !ok {
		return errWrongVariant
	}
	if m, ok := e.hotkeys.(HotkeyMuter); ok {
		restore := m.Mute()
		defer restore()
	}
	return e.input.Hotkey(ctx, k.Keys...)
}

func (e *ActionExecutor) drag(ctx context.Context, a action.Action, profile *calibration.Profile) error {
	d, ok := a.(action.Drag)
	if !ok {
		return errWrongVariant
	}
	from, err := lookup(profile, d.Target)
	if err != nil {
		return err
	}
	return e.input.Drag(ctx, from, d.DX, d.DY, e.opts.DragDuration)
}

// setSlider focuses the numeric field, selects its contents and types the
// new value.
func (e *ActionExecutor) setSlider(ctx context.Context, a action.Action, profile *calibration.Profile) error {
	s, ok := a.(action.SetSlider)
	if !ok {
		return errWrongVariant
	}
	at, err := lookup(profile, s.Target)
	if err != nil {
		return err
	}

	steps := []func() error{
		func() error { return e.input.Click(ctx, at) },
		func() error { return e.input.Pause(ctx, 50*time.Millisecond) },
		func() error { return e.input.DoubleClick(ctx, at) },
		func() error { return e.input.Pause(ctx, 100*time.Millisecond) },
		func() error { return e.input.Hotkey(ctx, "ctrl", "a") },
		func() error { return e.input.Pause(ctx, 50*time.Millisecond) },
		func() error { return e.input.Hotkey(ctx, "backspace") },
		func() error { return e.input.Pause(ctx, 50*time.Millisecond) },
		func() error { return e.input.Type(ctx, action.FormatValue(s.Value)) },
		func() error { return e.input.Pause(ctx, 50*time.Millisecond) },
		func() error { return e.input.Hotkey(ctx, "enter") },
		func() error { return e.input.Pause(ctx, 100*time.Millisecond) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
