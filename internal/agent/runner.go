package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/action"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/capture"
	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/llmclient"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

// Stop reasons reported in RunResult.Reason.
const (
	ReasonCompleted          = "completed"
	ReasonStopped            = "stopped"
	ReasonCancelled          = "cancelled"
	ReasonCalibrationMissing = "calibration_missing"
	ReasonModelStop          = "model_stop"
	ReasonConverged          = "converged"
	ReasonMaxIterations      = "max_iterations"
	ReasonError              = "error"
)

// pausePollInterval is how often a held run checks for resume.
const pausePollInterval = 50 * time.Millisecond

// RunOptions configures one run.
type RunOptions struct {
	// Reference is the target look. ReferencePath is loaded when Reference is nil.
	Reference     image.Image
	ReferencePath string
	Instructions  string
	Continuous    bool
	// MaxIterations bounds a continuous run; zero means no bound.
	MaxIterations int

	// Filled in by the controller when left empty.
	Profile        *calibration.Profile
	CurrentState   map[string]float64
	StartIteration int
	Settings       map[string]any
}

// Iteration is reported to observers after every completed pass.
type Iteration struct {
	Index   int
	Before  vision.Metrics
	Metrics vision.Metrics
	Image   image.Image
	Raw     map[string]any
	Summary string
	Result  *executor.Result
}

// RunResult is the outcome of a run. It carries the last known iteration,
// metrics and state even when Err is set.
type RunResult struct {
	Iteration int
	Metrics   *vision.Metrics
	State     map[string]float64
	Reason    string
	Summary   string
	Err       error
}

// Observer receives progress from the loop goroutine.
type Observer interface {
	OnThinking()
	OnRecommendation(summary string)
	OnIteration(it Iteration)
	OnLog(msg string)
	// OnPaused is called when the run holds itself, e.g. after focus loss.
	OnPaused(reason string)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	Thinking       func()
	Recommendation func(summary string)
	IterationFn    func(it Iteration)
	Log            func(msg string)
	Paused         func(reason string)
}

func (o ObserverFuncs) OnThinking() {
	if o.Thinking != nil {
		o.Thinking()
	}
}

func (o ObserverFuncs) OnRecommendation(s string) {
	if o.Recommendation != nil {
		o.Recommendation(s)
	}
}

func (o ObserverFuncs) OnIteration(it Iteration) {
	if o.IterationFn != nil {
		o.IterationFn(it)
	}
}

func (o ObserverFuncs) OnLog(msg string) {
	if o.Log != nil {
		o.Log(msg)
	}
}

func (o ObserverFuncs) OnPaused(reason string) {
	if o.Paused != nil {
		o.Paused(reason)
	}
}

// Runner drives the capture, score, request and execute loop.
type Runner struct {
	logger   *zap.Logger
	capturer capture.Capturer
	client   ModelClient
	exec     ActionExecutor
	sink     SessionSink
	recorder Recorder
	cfg      config.RunnerConfig
}

// NewRunner wires a runner. A nil sink or recorder is replaced with a no-op.
func NewRunner(logger *zap.Logger, capturer capture.Capturer, client ModelClient, exec ActionExecutor, sink SessionSink, recorder Recorder, cfg config.RunnerConfig) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NopSink{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Runner{
		logger:   logger.Named("runner"),
		capturer: capture.NewChecked(capturer, logger),
		client:   client,
		exec:     exec,
		sink:     sink,
		recorder: recorder,
		cfg:      cfg,
	}
}

// Run loops until the model stops, the scores converge, the executor is
// stopped, ctx ends or an error occurs. Outside continuous mode it makes a
// single pass.
func (r *Runner) Run(ctx context.Context, opts RunOptions, obs Observer) (res RunResult) {
	if obs == nil {
		obs = ObserverFuncs{}
	}
	res = RunResult{Iteration: opts.StartIteration, State: maps.Clone(opts.CurrentState)}
	if res.State == nil {
		res.State = map[string]float64{}
	}
	defer func() {
		if res.Err != nil {
			r.logger.Error("Iteration failed.", zap.Error(res.Err), zap.Int("iteration", res.Iteration))
			obs.OnLog(fmt.Sprintf("Iteration failed: %v", res.Err))
		}
		r.logger.Info("Run finished.", zap.String("reason", res.Reason), zap.Int("iteration", res.Iteration))
	}()

	fail := func(err error) RunResult {
		res.Err = err
		res.Reason = ReasonError
		return res
	}

	reference := opts.Reference
	if reference == nil && opts.ReferencePath != "" {
		img, err := vision.LoadImage(opts.ReferencePath)
		if err != nil {
			return fail(err)
		}
		reference = img
	}

	profile := opts.Profile
	r.sink.LogSessionInfo(opts.Settings, profile)
	detector := vision.NewConvergenceDetector(r.cfg.ConvergenceWindow, r.cfg.ConvergenceThreshold)
	passes := 0

	for {
		if r.exec.IsStopped() {
			res.Reason = ReasonStopped
			return res
		}
		if err := ctx.Err(); err != nil {
			res.Reason = ReasonCancelled
			return res
		}
		if !profile.Calibrated() {
			obs.OnLog("Calibration missing. Stopping automation.")
			res.Reason = ReasonCalibrationMissing
			return res
		}
		if reference == nil {
			return fail(ErrNoReference)
		}

		started := time.Now()
		before, err := r.capturer.Capture(ctx, profile.ROI)
		if err != nil {
			return r.interrupted(ctx, &res, fmt.Errorf("capture: %w", err))
		}
		beforeMetrics, err := vision.Compute(ctx, reference, before)
		if err != nil {
			return r.interrupted(ctx, &res, fmt.Errorf("score: %w", err))
		}

		if len(res.State) == 0 {
			seedState(res.State, profile)
		}

		r.logger.Info("Requesting model actions.", zap.Int("iteration", res.Iteration+1), zap.Float64("overall", beforeMetrics.Overall))
		obs.OnThinking()
		resp, err := r.client.RequestActions(ctx, llmclient.RequestContext{
			Reference:    reference,
			Current:      before,
			Metrics:      beforeMetrics,
			Profile:      profile,
			Instructions: opts.Instructions,
			CurrentState: maps.Clone(res.State),
		})
		if err != nil {
			return r.interrupted(ctx, &res, err)
		}
		res.Summary = resp.Summary
		obs.OnRecommendation(resp.Summary)

		if resp.Stop {
			obs.OnLog("Model requested stop or low confidence.")
			res.Reason = ReasonModelStop
			return res
		}

		r.logger.Info("Executing actions.", zap.Int("count", len(resp.Actions)))
		result, execErr := r.exec.Execute(ctx, res.Iteration+1, resp.Actions, profile)
		if result != nil {
			r.applyOutcomes(result, res.State)
		}
		if execErr != nil {
			if errors.Is(execErr, executor.ErrStopped) {
				res.Reason = ReasonStopped
				return res
			}
			if errors.Is(execErr, executor.ErrFocusLost) {
				if reason := r.holdForFocus(ctx, execErr, obs); reason != "" {
					res.Reason = reason
					return res
				}
				continue
			}
			return r.interrupted(ctx, &res, execErr)
		}

		after, err := r.capturer.Capture(ctx, profile.ROI)
		if err != nil {
			return r.interrupted(ctx, &res, fmt.Errorf("capture: %w", err))
		}
		afterMetrics, err := vision.Compute(ctx, reference, after)
		if err != nil {
			return r.interrupted(ctx, &res, fmt.Errorf("score: %w", err))
		}

		res.Iteration++
		passes++
		m := afterMetrics
		res.Metrics = &m
		r.recorder.RecordIteration(afterMetrics.Overall, time.Since(started))
		r.sink.LogIteration(res.Iteration, before, after, afterMetrics, resp.Raw)
		obs.OnIteration(Iteration{
			Index:   res.Iteration,
			Before:  beforeMetrics,
			Metrics: afterMetrics,
			Image:   after,
			Raw:     resp.Raw,
			Summary: resp.Summary,
			Result:  result,
		})

		if !opts.Continuous {
			res.Reason = ReasonCompleted
			return res
		}
		if detector.Add(afterMetrics.Overall) {
			obs.OnLog("Convergence detected. Stopping automation.")
			res.Reason = ReasonConverged
			return res
		}
		if opts.MaxIterations > 0 && passes >= opts.MaxIterations {
			res.Reason = ReasonMaxIterations
			return res
		}

		select {
		case <-ctx.Done():
			res.Reason = ReasonCancelled
			return res
		case <-time.After(r.cfg.ContinuousDelay):
		}
	}
}

// holdForFocus pauses the run after the target window lost focus and blocks
// until it is resumed. It returns a stop reason when the run should end instead.
func (r *Runner) holdForFocus(ctx context.Context, err error, obs Observer) string {
	r.exec.SetPaused(true)
	r.logger.Warn("Target window lost focus; run paused.", zap.Error(err))
	obs.OnLog("Target window lost focus. Paused until resumed.")
	obs.OnPaused(err.Error())

	t := time.NewTicker(pausePollInterval)
	defer t.Stop()
	for r.exec.IsPaused() {
		if r.exec.IsStopped() {
			return ReasonStopped
		}
		select {
		case <-ctx.Done():
			return ReasonCancelled
		case <-t.C:
		}
	}
	if r.exec.IsStopped() {
		return ReasonStopped
	}
	r.logger.Info("Run resumed after focus loss.")
	return ""
}

// interrupted classifies err: cancellation and stop are not failures.
func (r *Runner) interrupted(ctx context.Context, res *RunResult, err error) RunResult {
	switch {
	case r.exec.IsStopped():
		res.Reason = ReasonStopped
	case ctx.Err() != nil:
		res.Reason = ReasonCancelled
	default:
		res.Reason = ReasonError
		res.Err = err
	}
	return *res
}

// applyOutcomes records action metrics and tracks absolute slider values that
// were actually entered.
func (r *Runner) applyOutcomes(result *executor.Result, state map[string]float64) {
	for _, o := range result.Outcomes {
		kind := "unparsed"
		if o.Action != nil {
			kind = string(o.Action.Kind())
		}
		r.recorder.RecordAction(kind, string(o.Status))

		if o.Status != executor.StatusExecuted {
			continue
		}
		if s, ok := o.Action.(action.SetSlider); ok {
			if _, tracked := state[s.Target]; tracked {
				state[s.Target] = s.Value
			}
		}
	}
}

// seedState fills state with every control's default, or zero when none is known.
func seedState(state map[string]float64, profile *calibration.Profile) {
	defaults := profile.Defaults()
	for _, name := range profile.ControlNames() {
		state[name] = defaults[name]
	}
}
