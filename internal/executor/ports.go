package executor

import (
	"context"
	"image"
)

// FocusPort reports and re-acquires input focus on the controlled window.
type FocusPort interface {
	HasFocus(ctx context.Context) (bool, error)
	// TryFocus locates the window, brings it forward and waits briefly for
	// focus to land.
	TryFocus(ctx context.Context) (bool, error)
}

// HotkeyPort delivers a global stop hotkey.
type HotkeyPort interface {
	Start(onStop func()) error
	Close() error
}

// HotkeyMuter is implemented by hotkey ports that can ignore their own keys.
// Keypress actions may contain a stop key; the executor mutes the port while
// it sends them. The returned func restores delivery.
type HotkeyMuter interface {
	Mute() (restore func())
}

// ScreenshotFunc captures the current state of the controlled region.
type ScreenshotFunc func(ctx context.Context) (image.Image, error)

// ScreenshotSink receives the before/after screenshots taken around pointer actions.
type ScreenshotSink interface {
	LogActionScreenshot(iteration, actionIdx int, actionType string, img image.Image, phase string)
}

// AlwaysFocused is a FocusPort for backends without a notion of focus.
type AlwaysFocused struct{}

func (AlwaysFocused) HasFocus(context.Context) (bool, error) { return true, nil }
func (AlwaysFocused) TryFocus(context.Context) (bool, error) { return true, nil }
