package humanoid

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/api/schemas"
)

// MoveTo moves the pointer to target along a human-like path.
func (h *Humanoid) MoveTo(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveAlong(ctx, target, 0)
}

// Click moves to target and presses the left button once.
func (h *Humanoid) Click(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.moveAlong(ctx, target, 0); err != nil {
		return err
	}
	return h.clickOnce(ctx, 1)
}

// DoubleClick moves to target and sends two clicks, the second carrying clickCount 2.
func (h *Humanoid) DoubleClick(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.moveAlong(ctx, target, 0); err != nil {
		return err
	}
	if err := h.clickOnce(ctx, 1); err != nil {
		return err
	}
	return h.clickOnce(ctx, 2)
}

// Drag presses at from, moves by (dx, dy) over duration and releases. The
// release is sent even when the move fails or ctx is cancelled.
func (h *Humanoid) Drag(ctx context.Context, from Vector2D, dx, dy float64, duration time.Duration) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.moveAlong(ctx, from, 0); err != nil {
		return fmt.Errorf("humanoid: drag approach: %w", err)
	}
	if err := h.press(ctx, 1); err != nil {
		return fmt.Errorf("humanoid: drag press: %w", err)
	}
	defer func() {
		releaseCtx := ctx
		if err != nil {
			releaseCtx = context.WithoutCancel(ctx)
		}
		if rerr := h.release(releaseCtx, 1); rerr != nil && err == nil {
			err = fmt.Errorf("humanoid: drag release: %w", rerr)
		}
	}()

	if err := h.moveAlong(ctx, from.Add(Vector2D{X: dx, Y: dy}), duration); err != nil {
		h.logger.Warn("Drag movement failed, releasing button.", zap.Error(err))
		return fmt.Errorf("humanoid: drag move: %w", err)
	}
	return nil
}

func (h *Humanoid) clickOnce(ctx context.Context, count int) error {
	if err := h.press(ctx, count); err != nil {
		return err
	}
	if err := h.Pause(ctx, h.clickHold()); err != nil {
		_ = h.release(context.WithoutCancel(ctx), count)
		return err
	}
	return h.release(ctx, count)
}

func (h *Humanoid) clickHold() time.Duration {
	lo, hi := h.cfg.ClickHoldMin, h.cfg.ClickHoldMax
	if !h.cfg.Enabled || hi <= lo {
		return lo
	}
	return lo + time.Duration(h.rng.Int63n(int64(hi-lo)+1))
}

func (h *Humanoid) press(ctx context.Context, count int) error {
	err := h.executor.DispatchMouseEvent(ctx, schemas.MouseEventData{
		Type:       schemas.MousePress,
		X:          h.currentPos.X,
		Y:          h.currentPos.Y,
		Button:     schemas.ButtonLeft,
		Buttons:    1,
		ClickCount: count,
	})
	if err != nil {
		return err
	}
	h.buttonState = schemas.ButtonLeft
	return nil
}

// release lifts the left button if it is down. State is cleared even when
// the dispatch fails so the humanoid never believes the button is stuck.
func (h *Humanoid) release(ctx context.Context, count int) error {
	if h.buttonState != schemas.ButtonLeft {
		return nil
	}
	err := h.executor.DispatchMouseEvent(ctx, schemas.MouseEventData{
		Type:       schemas.MouseRelease,
		X:          h.currentPos.X,
		Y:          h.currentPos.Y,
		Button:     schemas.ButtonLeft,
		Buttons:    0,
		ClickCount: count,
	})
	if err != nil {
		h.logger.Error("Failed to dispatch mouse release.", zap.Error(err))
	}
	h.buttonState = schemas.ButtonNone
	return err
}
