package humanoid

import (
	"math/rand"
	"time"

	"github.com/xkilldash9x/resolve-agent/internal/config"
)

// Config tunes gesture synthesis.
type Config struct {
	// Enabled selects curved, noisy trajectories. When false every move is a
	// single pointer event and clicks use the minimum hold.
	Enabled bool

	// Fitts's law: movement time in ms is FittsA + FittsB*log2(1 + d/W).
	FittsA float64
	FittsB float64

	PerlinAmplitude  float64
	GaussianStrength float64

	ClickHoldMin time.Duration
	ClickHoldMax time.Duration
	KeyHoldMean  time.Duration

	// Rng, when set, makes the humanoid deterministic.
	Rng *rand.Rand
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FittsA:           60,
		FittsB:           90,
		PerlinAmplitude:  1.0,
		GaussianStrength: 0.3,
		ClickHoldMin:     40 * time.Millisecond,
		ClickHoldMax:     90 * time.Millisecond,
		KeyHoldMean:      45 * time.Millisecond,
	}
}

// FromConfig maps the humanoid config section onto Config. Zero values keep
// the defaults.
func FromConfig(cfg config.HumanoidConfig) Config {
	c := DefaultConfig()
	c.Enabled = cfg.Enabled
	if cfg.FittsA > 0 {
		c.FittsA = cfg.FittsA
	}
	if cfg.FittsB > 0 {
		c.FittsB = cfg.FittsB
	}
	if cfg.PerlinAmplitude > 0 {
		c.PerlinAmplitude = cfg.PerlinAmplitude
	}
	if cfg.GaussianStrength > 0 {
		c.GaussianStrength = cfg.GaussianStrength
	}
	if cfg.ClickHoldMinMs > 0 {
		c.ClickHoldMin = time.Duration(cfg.ClickHoldMinMs) * time.Millisecond
	}
	if cfg.ClickHoldMaxMs > 0 {
		c.ClickHoldMax = time.Duration(cfg.ClickHoldMaxMs) * time.Millisecond
	}
	if c.ClickHoldMax < c.ClickHoldMin {
		c.ClickHoldMax = c.ClickHoldMin
	}
	if cfg.KeyHoldMeanMs > 0 {
		c.KeyHoldMean = time.Duration(cfg.KeyHoldMeanMs * float64(time.Millisecond))
	}
	return c
}
