// Package humanoid turns high-level gestures (move, click, drag, hotkey,
// type) into sequences of low-level pointer and key events with human-like
// timing and trajectories.
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/api/schemas"
)

// Humanoid owns the synthetic input device. mu is held for the whole of each
// gesture so gestures never interleave. Unexported helpers assume it is held.
type Humanoid struct {
	mu          sync.Mutex
	cfg         Config
	logger      *zap.Logger
	executor    Executor
	currentPos  Vector2D
	buttonState schemas.MouseButton
	rng         *rand.Rand
	noiseX      *perlin.Perlin
	noiseY      *perlin.Perlin
}

// New creates a Humanoid driving executor.
func New(cfg Config, logger *zap.Logger, executor Executor) *Humanoid {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := time.Now().UnixNano()
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	}
	return &Humanoid{
		cfg:         cfg,
		logger:      logger.Named("humanoid"),
		executor:    executor,
		buttonState: schemas.ButtonNone,
		rng:         rng,
		noiseX:      perlin.NewPerlin(2, 2, 3, seed),
		noiseY:      perlin.NewPerlin(2, 2, 3, seed+1),
	}
}

// NewTestHumanoid returns a deterministic Humanoid for tests.
func NewTestHumanoid(executor Executor, seed int64) *Humanoid {
	cfg := DefaultConfig()
	cfg.Rng = rand.New(rand.NewSource(seed))
	h := New(cfg, zap.NewNop(), executor)
	h.noiseX = perlin.NewPerlin(2, 2, 3, seed)
	h.noiseY = perlin.NewPerlin(2, 2, 3, seed+1)
	return h
}

// Position returns the last pointer position the humanoid dispatched.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// SetPosition records where the pointer is without dispatching anything.
func (h *Humanoid) SetPosition(p Vector2D) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentPos = p
}

// Pause sleeps through the executor so pacing is observable and cancellable.
func (h *Humanoid) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return h.executor.Sleep(ctx, d)
}

func buttonsBitfield(b schemas.MouseButton) int64 {
	switch b {
	case schemas.ButtonLeft:
		return 1
	case schemas.ButtonRight:
		return 2
	case schemas.ButtonMiddle:
		return 4
	}
	return 0
}
