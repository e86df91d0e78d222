// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components receive it (or one of its sections) at construction time.
type Interface interface {
	Logger() LoggerConfig
	LLM() LLMConfig
	Executor() ExecutorConfig
	Runner() RunnerConfig
	Calibration() CalibrationConfig
	Browser() BrowserConfig
	Humanoid() HumanoidConfig
	Server() ServerConfig

	// Setters used by CLI flag overrides.
	SetLLMModel(model string)
	SetLLMEndpoint(endpoint string)
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(url string)
	SetExecutorFailFast(bool)
	SetExecutorRollbackOnFail(bool)
	SetServerAddr(addr string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	LLMCfg         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	ExecutorCfg    ExecutorConfig    `mapstructure:"executor" yaml:"executor"`
	RunnerCfg      RunnerConfig      `mapstructure:"runner" yaml:"runner"`
	CalibrationCfg CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	HumanoidCfg    HumanoidConfig    `mapstructure:"humanoid" yaml:"humanoid"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) LLM() LLMConfig                 { return c.LLMCfg }
func (c *Config) Executor() ExecutorConfig       { return c.ExecutorCfg }
func (c *Config) Runner() RunnerConfig           { return c.RunnerCfg }
func (c *Config) Calibration() CalibrationConfig { return c.CalibrationCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Humanoid() HumanoidConfig       { return c.HumanoidCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }

func (c *Config) SetLLMModel(model string)          { c.LLMCfg.Model = model }
func (c *Config) SetLLMEndpoint(endpoint string)    { c.LLMCfg.Endpoint = endpoint }
func (c *Config) SetBrowserHeadless(b bool)         { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(url string)    { c.BrowserCfg.RemoteURL = url }
func (c *Config) SetExecutorFailFast(b bool)        { c.ExecutorCfg.FailFast = b }
func (c *Config) SetExecutorRollbackOnFail(b bool)  { c.ExecutorCfg.RollbackOnFail = b }
func (c *Config) SetServerAddr(addr string)         { c.ServerCfg.Addr = addr }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMConfig configures the vision model endpoint and the protocol client.
type LLMConfig struct {
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	MinConfidence     float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	MaxImageDim       int           `mapstructure:"max_image_dim" yaml:"max_image_dim"`
	JPEGQuality       int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
}

// ExecutorConfig tunes the action executor's safety and pacing behavior.
type ExecutorConfig struct {
	FocusTitle        string        `mapstructure:"focus_title" yaml:"focus_title"`
	InterActionDelay  time.Duration `mapstructure:"inter_action_delay" yaml:"inter_action_delay"`
	FailFast          bool          `mapstructure:"fail_fast" yaml:"fail_fast"`
	RollbackOnFail    bool          `mapstructure:"rollback_on_fail" yaml:"rollback_on_fail"`
	PausePollInterval time.Duration `mapstructure:"pause_poll_interval" yaml:"pause_poll_interval"`
	FocusTimeout      time.Duration `mapstructure:"focus_timeout" yaml:"focus_timeout"`
	DragDuration      time.Duration `mapstructure:"drag_duration" yaml:"drag_duration"`
	StopHotkeys       []string      `mapstructure:"stop_hotkeys" yaml:"stop_hotkeys"`
}

// RunnerConfig configures the iteration loop and the convergence judge.
type RunnerConfig struct {
	ContinuousDelay      time.Duration `mapstructure:"continuous_delay" yaml:"continuous_delay"`
	ConvergenceWindow    int           `mapstructure:"convergence_window" yaml:"convergence_window"`
	ConvergenceThreshold float64       `mapstructure:"convergence_threshold" yaml:"convergence_threshold"`
}

// CalibrationConfig points at the calibration artifacts on disk.
type CalibrationConfig struct {
	ControllerConfigPath string `mapstructure:"controller_config_path" yaml:"controller_config_path"`
	ProfilePath          string `mapstructure:"profile_path" yaml:"profile_path"`
}

// BrowserConfig holds settings for the CDP input backend.
type BrowserConfig struct {
	RemoteURL      string   `mapstructure:"remote_url" yaml:"remote_url"`
	TargetURL      string   `mapstructure:"target_url" yaml:"target_url"`
	Headless       bool     `mapstructure:"headless" yaml:"headless"`
	Args           []string `mapstructure:"args" yaml:"args"`
	ViewportWidth  int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int      `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "resolve-agent")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.ping_timeout", "30s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.min_confidence", 0.3)
	v.SetDefault("llm.max_image_dim", 512)
	v.SetDefault("llm.jpeg_quality", 70)
	v.SetDefault("llm.requests_per_minute", 0.0)
	v.SetDefault("llm.backoff_initial", "1s")
	v.SetDefault("llm.backoff_max", "8s")

	// -- Executor --
	v.SetDefault("executor.focus_title", "DaVinci Resolve")
	v.SetDefault("executor.inter_action_delay", "100ms")
	v.SetDefault("executor.fail_fast", true)
	v.SetDefault("executor.rollback_on_fail", true)
	v.SetDefault("executor.pause_poll_interval", "50ms")
	v.SetDefault("executor.focus_timeout", "1s")
	v.SetDefault("executor.drag_duration", "300ms")
	v.SetDefault("executor.stop_hotkeys", []string{"Escape", "Pause"})

	// -- Runner --
	v.SetDefault("runner.continuous_delay", "1s")
	v.SetDefault("runner.convergence_window", 5)
	v.SetDefault("runner.convergence_threshold", 0.001)

	// -- Calibration --
	v.SetDefault("calibration.controller_config_path", "controllerConfig.json")
	v.SetDefault("calibration.profile_path", "")

	// -- Browser --
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.target_url", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)

	// -- Humanoid --
	setHumanoidDefaults(v)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8765")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.allowed_origins", []string{"localhost:*", "127.0.0.1:*"})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The API key is commonly exported under the provider's own name.
	_ = v.BindEnv("llm.api_key", "RESOLVE_AGENT_LLM_API_KEY", "OPENAI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.LoggerCfg.LogFile,
		&c.CalibrationCfg.ControllerConfigPath,
		&c.CalibrationCfg.ProfilePath,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.ExecutorCfg.InterActionDelay < 0 {
		return fmt.Errorf("executor.inter_action_delay must not be negative")
	}
	if c.ExecutorCfg.PausePollInterval <= 0 {
		return fmt.Errorf("executor.pause_poll_interval must be a positive duration")
	}
	if c.RunnerCfg.ConvergenceWindow < 1 {
		return fmt.Errorf("runner.convergence_window must be at least 1")
	}
	if c.RunnerCfg.ConvergenceThreshold <= 0 {
		return fmt.Errorf("runner.convergence_threshold must be positive")
	}
	if c.RunnerCfg.ContinuousDelay < 0 {
		return fmt.Errorf("runner.continuous_delay must not be negative")
	}
	return nil
}

// Validate checks the LLM section.
func (l *LLMConfig) Validate() error {
	if l.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if l.MinConfidence < 0.0 || l.MinConfidence > 1.0 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0")
	}
	if l.MaxImageDim <= 0 {
		return fmt.Errorf("max_image_dim must be a positive integer")
	}
	if l.JPEGQuality < 1 || l.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}
