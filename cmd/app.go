package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/agent"
	"github.com/xkilldash9x/resolve-agent/internal/browser"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/humanoid"
	"github.com/xkilldash9x/resolve-agent/internal/llmclient"
	"github.com/xkilldash9x/resolve-agent/internal/metrics"
)

const metricsNamespace = "resolve_agent"

// app is the fully wired agent behind the run and serve commands.
type app struct {
	logger  *zap.Logger
	cfg     *config.Config
	session *browser.Session
	exec    *executor.ActionExecutor
	client  *llmclient.Client
	metrics *metrics.Collector
	bus     *agent.EventBus
	ctrl    *agent.Controller
}

func newClient(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (*llmclient.Client, error) {
	var opts []llmclient.Option
	if collector != nil {
		opts = append(opts, llmclient.WithObserver(collector))
	}
	return llmclient.New(cfg.LLM(), logger, opts...)
}

// newApp starts the browser session and wires every component around it.
// The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	collector := metrics.NewCollector(metricsNamespace, logger)
	client, err := newClient(cfg, logger, collector)
	if err != nil {
		return nil, err
	}

	session, err := browser.NewSession(ctx, cfg.Browser(), logger)
	if err != nil {
		return nil, err
	}

	execCfg := cfg.Executor()
	input := humanoid.New(humanoid.FromConfig(cfg.Humanoid()), logger, session.Executor())
	exec := executor.New(logger, input,
		session.Focus(execCfg.FocusTitle, execCfg.FocusTimeout),
		session.Hotkeys(execCfg.StopHotkeys),
		executor.OptionsFromConfig(execCfg))
	if err := exec.Start(); err != nil {
		session.Close()
		return nil, err
	}

	sink := agent.NewLogSink(logger)
	runner := agent.NewRunner(logger, session.Capturer(), client, exec, sink, collector, cfg.Runner())
	bus := agent.NewEventBus(logger, 256)
	ctrl := agent.NewController(logger, runner, exec, client, collector, bus)

	a := &app{
		logger:  logger,
		cfg:     cfg,
		session: session,
		exec:    exec,
		client:  client,
		metrics: collector,
		bus:     bus,
		ctrl:    ctrl,
	}
	a.loadCalibration()
	return a, nil
}

// loadCalibration restores the saved profile, or builds one from the
// controller config. A missing calibration is logged; runs then stop with
// calibration_missing.
func (a *app) loadCalibration() {
	cal := a.cfg.Calibration()
	err := a.ctrl.Calibrate(func() (*calibration.Profile, error) {
		if cal.ProfilePath != "" {
			p, err := calibration.LoadProfile(cal.ProfilePath)
			if err == nil {
				a.logger.Info("Calibration profile restored.", zap.String("path", cal.ProfilePath))
				return p, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
		return calibration.LoadFromControllerConfig(cal.ControllerConfigPath)
	})
	if err != nil {
		a.logger.Warn("No calibration loaded.", zap.Error(err))
	}
}

// Close stops the hotkey listener, closes the bus and tears down the browser.
func (a *app) Close() {
	if err := a.exec.Close(); err != nil {
		a.logger.Debug("Executor close failed.", zap.Error(err))
	}
	a.bus.Close()
	a.session.Close()
}

// saveProfile writes p to the configured profile path, if any.
func saveProfile(cfg *config.Config, p *calibration.Profile) (string, error) {
	path := cfg.Calibration().ProfilePath
	if path == "" {
		return "", nil
	}
	if err := calibration.SaveProfile(path, p); err != nil {
		return "", fmt.Errorf("save profile: %w", err)
	}
	return path, nil
}
