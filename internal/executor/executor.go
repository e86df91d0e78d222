// Package executor validates and performs model-proposed actions against the
// controlled application, one batch at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/action"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/humanoid"
)

type handler func(ctx context.Context, a action.Action, profile *calibration.Profile) error

// ActionExecutor owns the stop and pause flags and the focus invariant: no
// input is sent unless FocusPort reports focus.
type ActionExecutor struct {
	logger   *zap.Logger
	input    humanoid.Controller
	focus    FocusPort
	hotkeys  HotkeyPort
	opts     Options
	handlers map[action.Type]handler

	stopped atomic.Bool
	paused  atomic.Bool

	mu         sync.Mutex
	history    []action.Action
	screenshot ScreenshotFunc
	sink       ScreenshotSink
}

// New builds an executor. A nil focus port means the target is always focused.
func New(logger *zap.Logger, input humanoid.Controller, focus FocusPort, hotkeys HotkeyPort, opts Options) *ActionExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if focus == nil {
		focus = AlwaysFocused{}
	}
	e := &ActionExecutor{
		logger:  logger.Named("executor"),
		input:   input,
		focus:   focus,
		hotkeys: hotkeys,
		opts:    opts,
	}
	e.handlers = map[action.Type]handler{
		action.TypeKeypress:  e.keypress,
		action.TypeDrag:      e.drag,
		action.TypeSetSlider: e.setSlider,
	}
	return e
}

// SetScreenshots enables before/after screenshots around pointer actions.
func (e *ActionExecutor) SetScreenshots(fn ScreenshotFunc, sink ScreenshotSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.screenshot, e.sink = fn, sink
}

// Start registers the stop hotkey.
func (e *ActionExecutor) Start() error {
	if e.hotkeys == nil {
		return nil
	}
	if err := e.hotkeys.Start(func() {
		e.logger.Warn("Stop hotkey pressed.")
		e.Stop()
	}); err != nil {
		return fmt.Errorf("executor: register stop hotkey: %w", err)
	}
	return nil
}

// Close releases the stop hotkey.
func (e *ActionExecutor) Close() error {
	if e.hotkeys == nil {
		return nil
	}
	return e.hotkeys.Close()
}

// Stop raises the stop flag. It also ends any pause wait.
func (e *ActionExecutor) Stop() { e.stopped.Store(true) }

// IsStopped reports the stop flag.
func (e *ActionExecutor) IsStopped() bool { return e.stopped.Load() }

// SetPaused sets or clears the pause flag.
func (e *ActionExecutor) SetPaused(p bool) { e.paused.Store(p) }

// IsPaused reports the pause flag.
func (e *ActionExecutor) IsPaused() bool { return e.paused.Load() }

// Reset clears stop and pause for a new run.
func (e *ActionExecutor) Reset() {
	e.stopped.Store(false)
	e.paused.Store(false)
}

// Execute runs a batch of raw action payloads in order. iteration is only used
// to label screenshots. The returned Result is always non-nil.
func (e *ActionExecutor) Execute(ctx context.Context, iteration int, payloads []map[string]any, profile *calibration.Profile) (*Result, error) {
	res := &Result{}
	var executed []action.Action
	defer func() {
		e.mu.Lock()
		e.history = append(e.history, executed...)
		e.mu.Unlock()
	}()

	fail := func(idx int, a action.Action, err error) error {
		res.Outcomes = append(res.Outcomes, Outcome{Index: idx, Action: a, Status: StatusFailed, Err: err})
		e.logger.Error("Action failed.", zap.Int("index", idx), zap.Error(err))
		if !e.opts.FailFast {
			return nil
		}
		if e.opts.RollbackOnFail && len(executed) > 0 {
			res.RolledBack = e.rollback(ctx, len(executed))
			executed = executed[:len(executed)-res.RolledBack]
			res.markRolledBack(res.RolledBack)
		}
		return err
	}

	for i, raw := range payloads {
		if e.IsStopped() {
			e.logger.Info("Stop requested, halting batch.", zap.Int("index", i))
			return res, ErrStopped
		}
		if err := e.waitWhilePaused(ctx); err != nil {
			return res, err
		}
		if err := e.ensureFocus(ctx); err != nil {
			return res, err
		}

		a, dropped, err := action.Parse(raw)
		if len(dropped) > 0 {
			e.logger.Warn("Dropped unrecognised action fields.", zap.Int("index", i), zap.Strings("fields", dropped))
		}
		if err != nil {
			if ferr := fail(i, nil, err); ferr != nil {
				return res, ferr
			}
			continue
		}

		a = action.Clamp(a)
		if err := action.Validate(a, targetsOf(profile)); err != nil {
			if ferr := fail(i, a, err); ferr != nil {
				return res, ferr
			}
			continue
		}

		h, ok := e.handlers[a.Kind()]
		if !ok {
			e.logger.Warn("Skipping unsupported action type.", zap.String("type", string(a.Kind())), zap.Int("index", i))
			res.Outcomes = append(res.Outcomes, Outcome{Index: i, Action: a, Status: StatusSkipped})
			continue
		}

		e.capture(ctx, iteration, i, a, "before")
		if err := h(ctx, a, profile); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if action.CodeOf(err) == "" {
				err = action.ExecutionFailed(err)
			}
			if ferr := fail(i, a, err); ferr != nil {
				return res, ferr
			}
			continue
		}
		e.capture(ctx, iteration, i, a, "after")

		executed = append(executed, a)
		res.Outcomes = append(res.Outcomes, Outcome{Index: i, Action: a, Status: StatusExecuted})
		e.logger.Info("Action executed.",
			zap.Int("index", i),
			zap.String("type", string(a.Kind())),
			zap.String("target", a.TargetName()),
			zap.String("reason", a.Why()))

		if i < len(payloads)-1 {
			if err := e.input.Pause(ctx, e.opts.InterActionDelay); err != nil {
				return res, err
			}
		}
	}

	if len(executed) > 0 {
		if err := e.input.Pause(ctx, e.settleDelay()); err != nil {
			return res, err
		}
	}
	return res, nil
}

// UndoLast sends one undo for the most recently executed action.
func (e *ActionExecutor) UndoLast(ctx context.Context) error {
	if err := e.ensureFocus(ctx); err != nil {
		return err
	}
	if err := e.input.Hotkey(ctx, "ctrl", "z"); err != nil {
		return action.ExecutionFailed(err)
	}
	e.mu.Lock()
	if n := len(e.history); n > 0 {
		e.history = e.history[:n-1]
	}
	e.mu.Unlock()
	e.logger.Info("Undid last action.")
	return nil
}

// History returns the actions executed since construction, oldest first.
func (e *ActionExecutor) History() []action.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]action.Action(nil), e.history...)
}

// rollback undoes n actions with one ctrl+z each, stopping at the first error
// or as soon as focus is gone. It returns the number of undos sent.
func (e *ActionExecutor) rollback(ctx context.Context, n int) int {
	e.logger.Warn("Rolling back executed actions.", zap.Int("count", n))
	done := 0
	for i := 0; i < n; i++ {
		ok, err := e.focus.HasFocus(ctx)
		if err != nil || !ok {
			e.logger.Error("Rollback aborted: target lost focus.", zap.Error(err))
			break
		}
		if err := e.input.Hotkey(ctx, "ctrl", "z"); err != nil {
			e.logger.Error("Rollback aborted.", zap.Int("undone", done), zap.Error(err))
			break
		}
		done++
		if err := e.input.Pause(ctx, e.opts.UndoGap); err != nil {
			break
		}
	}
	return done
}

func (e *ActionExecutor) waitWhilePaused(ctx context.Context) error {
	if !e.IsPaused() {
		return nil
	}
	e.logger.Info("Executor paused, waiting.")
	t := time.NewTicker(e.opts.PausePollInterval)
	defer t.Stop()
	for e.IsPaused() {
		if e.IsStopped() {
			return ErrStopped
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if e.IsStopped() {
		return ErrStopped
	}
	return nil
}

func (e *ActionExecutor) ensureFocus(ctx context.Context) error {
	ok, err := e.focus.HasFocus(ctx)
	if err == nil && ok {
		return nil
	}
	if err != nil {
		e.logger.Warn("Focus check failed.", zap.Error(err))
	}
	ok, err = e.focus.TryFocus(ctx)
	if err == nil && ok {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.SetPaused(true)
	e.logger.Error("Target window is not focused; pausing.", zap.Error(err))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFocusLost, err)
	}
	return ErrFocusLost
}

func (e *ActionExecutor) settleDelay() time.Duration {
	lo, hi := e.opts.FinalSettleMin, e.opts.FinalSettleMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func (e *ActionExecutor) capture(ctx context.Context, iteration, idx int, a action.Action, phase string) {
	if a.Kind() != action.TypeDrag && a.Kind() != action.TypeSetSlider {
		return
	}
	e.mu.Lock()
	fn, sink := e.screenshot, e.sink
	e.mu.Unlock()
	if fn == nil || sink == nil {
		return
	}
	img, err := fn(ctx)
	if err != nil {
		e.logger.Debug("Action screenshot failed.", zap.String("phase", phase), zap.Error(err))
		return
	}
	sink.LogActionScreenshot(iteration, idx, string(a.Kind()), img, phase)
}

// targetsOf avoids handing Validate a typed-nil TargetSet.
func targetsOf(p *calibration.Profile) action.TargetSet {
	if p == nil {
		return nil
	}
	return p
}

func lookup(profile *calibration.Profile, name string) (humanoid.Vector2D, error) {
	pt, ok := profile.Target(name)
	if !ok {
		return humanoid.Vector2D{}, action.ExecutionFailed(fmt.Errorf("unknown target %q", name))
	}
	return humanoid.Vector2D{X: float64(pt.X), Y: float64(pt.Y)}, nil
}

var errWrongVariant = errors.New("handler received the wrong action variant")
