// File: internal/config/humanoid_config.go
package config

import "github.com/spf13/viper"

// HumanoidConfig holds the tunable parameters of the pointer and keyboard
// synthesis used to drive the target application. A zero value for a numeric
// field means "use the humanoid package default".
type HumanoidConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	FittsA           float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB           float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	PerlinAmplitude  float64 `mapstructure:"perlin_amplitude" yaml:"perlin_amplitude"`
	GaussianStrength float64 `mapstructure:"gaussian_strength" yaml:"gaussian_strength"`
	ClickHoldMinMs   int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs   int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
	KeyHoldMeanMs    float64 `mapstructure:"key_hold_mean_ms" yaml:"key_hold_mean_ms"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("humanoid.enabled", true)
	v.SetDefault("humanoid.fitts_a", 60.0)
	v.SetDefault("humanoid.fitts_b", 90.0)
	v.SetDefault("humanoid.perlin_amplitude", 1.0)
	v.SetDefault("humanoid.gaussian_strength", 0.3)
	v.SetDefault("humanoid.click_hold_min_ms", 40)
	v.SetDefault("humanoid.click_hold_max_ms", 90)
	v.SetDefault("humanoid.key_hold_mean_ms", 45.0)
}
