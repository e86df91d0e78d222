package humanoid

import (
	"context"
	"time"

	"github.com/xkilldash9x/resolve-agent/api/schemas"
)

// Executor is the low-level input backend the Humanoid drives. Every
// blocking call must honour ctx.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error
	// DispatchStructuredKey presses a key with modifiers held. The executor
	// owns the KeyDown/KeyUp sequence.
	DispatchStructuredKey(ctx context.Context, data schemas.KeyEventData) error
	// SendKeys types literal text.
	SendKeys(ctx context.Context, keys string) error
}

// Controller is the gesture-level API used by the action executor.
type Controller interface {
	MoveTo(ctx context.Context, target Vector2D) error
	Click(ctx context.Context, target Vector2D) error
	DoubleClick(ctx context.Context, target Vector2D) error
	Drag(ctx context.Context, from Vector2D, dx, dy float64, duration time.Duration) error
	Hotkey(ctx context.Context, keys ...string) error
	Type(ctx context.Context, text string) error
	Pause(ctx context.Context, d time.Duration) error
}

var _ Controller = (*Humanoid)(nil)
