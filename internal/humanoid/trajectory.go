package humanoid

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/api/schemas"
)

const (
	fittsTargetWidth = 30.0
	stepInterval     = 10 * time.Millisecond
	perlinFrequency  = 0.8
)

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration estimates the movement time for distance, with ±15% jitter.
func (h *Humanoid) fittsDuration(distance float64) time.Duration {
	id := math.Log2(1.0 + distance/fittsTargetWidth)
	mt := h.cfg.FittsA + h.cfg.FittsB*id
	mt += mt * (h.rng.Float64()*0.3 - 0.15)
	if mt < 0 {
		mt = 0
	}
	return time.Duration(mt * float64(time.Millisecond))
}

// bezierPath samples a cubic Bézier from start to end whose control points
// bow sideways by up to a tenth of the distance.
func (h *Humanoid) bezierPath(start, end Vector2D, steps int) []Vector2D {
	span := end.Sub(start)
	dist := span.Mag()
	if dist < 1.0 || steps <= 1 {
		return []Vector2D{end}
	}
	side := span.Normalize().Perp()
	bow1 := (h.rng.Float64()*2 - 1) * dist * 0.1
	bow2 := (h.rng.Float64()*2 - 1) * dist * 0.1
	p1 := start.Add(span.Mul(1.0 / 3)).Add(side.Mul(bow1))
	p2 := start.Add(span.Mul(2.0 / 3)).Add(side.Mul(bow2))

	path := make([]Vector2D, steps)
	for i := range path {
		t := float64(i) / float64(steps-1)
		omt := 1 - t
		path[i] = start.Mul(omt * omt * omt).
			Add(p1.Mul(3 * omt * omt * t)).
			Add(p2.Mul(3 * omt * t * t)).
			Add(end.Mul(t * t * t))
	}
	return path
}

func (h *Humanoid) tremor(p Vector2D) Vector2D {
	strength := h.cfg.GaussianStrength * (0.5 + h.rng.Float64())
	return Vector2D{X: p.X + h.rng.NormFloat64()*strength, Y: p.Y + h.rng.NormFloat64()*strength}
}

// moveAlong drives the pointer from the current position to end. A zero
// duration derives one from Fitts's law. The final event always lands exactly
// on end so relative drags are precise.
func (h *Humanoid) moveAlong(ctx context.Context, end Vector2D, duration time.Duration) error {
	start := h.currentPos
	buttons := buttonsBitfield(h.buttonState)

	if !h.cfg.Enabled {
		if err := h.dispatchMove(ctx, end, buttons); err != nil {
			return err
		}
		return h.Pause(ctx, duration)
	}

	if duration <= 0 {
		duration = h.fittsDuration(start.Dist(end))
	}
	steps := int(duration / stepInterval)
	if steps < 2 {
		steps = 2
	}
	path := h.bezierPath(start, end, steps)

	prevEased := 0.0
	for i := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := 1.0
		if len(path) > 1 {
			t = float64(i) / float64(len(path)-1)
		}
		eased := easeInOutCubic(t)
		idx := int(eased * float64(len(path)-1))
		if idx >= len(path) {
			idx = len(path) - 1
		}

		if err := h.Pause(ctx, time.Duration((eased-prevEased)*float64(duration))); err != nil {
			return err
		}
		prevEased = eased

		point := path[idx]
		if i < len(path)-1 {
			elapsed := eased * duration.Seconds()
			drift := Vector2D{
				X: h.noiseX.Noise1D(elapsed*perlinFrequency) * h.cfg.PerlinAmplitude,
				Y: h.noiseY.Noise1D(elapsed*perlinFrequency) * h.cfg.PerlinAmplitude,
			}
			point = h.tremor(point.Add(drift))
		} else {
			point = end
		}

		if err := h.dispatchMove(ctx, point, buttons); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Failed to dispatch pointer move.", zap.Error(err))
			}
			return err
		}
	}
	return nil
}

func (h *Humanoid) dispatchMove(ctx context.Context, p Vector2D, buttons int64) error {
	err := h.executor.DispatchMouseEvent(ctx, schemas.MouseEventData{
		Type:    schemas.MouseMove,
		X:       p.X,
		Y:       p.Y,
		Button:  schemas.ButtonNone,
		Buttons: buttons,
	})
	if err != nil {
		return err
	}
	h.currentPos = p
	return nil
}
