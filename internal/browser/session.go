// Package browser drives the grading surface over the Chrome DevTools
// Protocol. It supplies the input backend, the region capturer, the focus
// port and the stop hotkey used by the executor and the runner.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/config"
)

// runFunc executes chromedp actions against a tab.
type runFunc func(ctx context.Context, actions ...chromedp.Action) error

// Session owns one tab and the browser or remote connection behind it.
type Session struct {
	logger      *zap.Logger
	cfg         config.BrowserConfig
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// AllocatorOptions builds the exec allocator flags for a locally launched browser.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if arg == "" {
			continue
		}
		if key, value, ok := strings.Cut(arg, "="); ok {
			opts = append(opts, chromedp.Flag(key, value))
			continue
		}
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// NewSession attaches to cfg.RemoteURL when set, otherwise launches a browser.
// The tab navigates to cfg.TargetURL when one is configured.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		logger.Info("Attaching to remote browser.", zap.String("url", cfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), cfg.RemoteURL)
	} else {
		logger.Info("Launching browser.", zap.Bool("headless", cfg.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), AllocatorOptions(cfg)...)
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx)
	s := &Session{logger: logger, cfg: cfg, ctx: tabCtx, cancel: cancel, allocCancel: allocCancel}

	var boot []chromedp.Action
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 && cfg.RemoteURL == "" {
		boot = append(boot, chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)))
	}
	if cfg.TargetURL != "" {
		boot = append(boot, chromedp.Navigate(cfg.TargetURL))
	}
	if err := s.RunActions(ctx, boot...); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: start session: %w", err)
	}
	logger.Info("Browser session ready.", zap.String("target", cfg.TargetURL))
	return s, nil
}

// RunActions runs actions on the tab. They are cancelled when either ctx or
// the session ends.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Close shuts the tab and the browser or remote connection.
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
}

// Executor returns the CDP input backend for the humanoid.
func (s *Session) Executor() *Executor {
	return newExecutor(s.logger, s.RunActions)
}

// Capturer returns a region capturer backed by Page.captureScreenshot.
func (s *Session) Capturer() *Capturer {
	return newCapturer(s.logger, s.RunActions)
}

// Focus returns a focus port that expects a page title containing title.
func (s *Session) Focus(title string, timeout time.Duration) *Focus {
	return newFocus(s.logger, s.RunActions, title, timeout)
}

// Hotkeys returns a stop hotkey port listening for keys on the tab.
func (s *Session) Hotkeys(keys []string) *Hotkeys {
	return newHotkeys(s.logger, s.ctx, s.RunActions, keys)
}

// CombineContext returns a context carrying primary's values that is
// cancelled when either primary or secondary is.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
