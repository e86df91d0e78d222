package agent

import (
	"context"
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/resolve-agent/internal/action"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/capture"
	"github.com/xkilldash9x/resolve-agent/internal/config"
	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/llmclient"
)

var (
	grey = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	warm = color.RGBA{R: 200, G: 120, B: 80, A: 255}
)

type runnerHarness struct {
	runner *Runner
	client *mockClient
	exec   *mockExecutor
	sink   *recordingSink
	rec    *recordingRecorder
}

func newRunnerHarness(t *testing.T, cfg config.RunnerConfig) *runnerHarness {
	t.Helper()
	h := &runnerHarness{
		client: &mockClient{},
		exec:   &mockExecutor{},
		sink:   &recordingSink{},
		rec:    &recordingRecorder{},
	}
	h.runner = NewRunner(zaptest.NewLogger(t), capture.NewStatic(solid(grey)), h.client, h.exec, h.sink, h.rec, cfg)
	return h
}

func singlePass() RunOptions {
	return RunOptions{Reference: solid(warm), Profile: testProfile()}
}

func TestRunSinglePass(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	var events []string
	obs := ObserverFuncs{
		Thinking:       func() { events = append(events, "thinking") },
		Recommendation: func(s string) { events = append(events, "recommendation:"+s) },
		IterationFn: func(it Iteration) {
			events = append(events, "iteration")
			assert.Equal(t, 1, it.Index)
			assert.Equal(t, "raise contrast", it.Summary)
			require.NotNil(t, it.Result)
			assert.Equal(t, 1, it.Result.Count(executor.StatusExecuted))
		},
	}

	res := h.runner.Run(context.Background(), singlePass(), obs)
	require.NoError(t, res.Err)
	assert.Equal(t, ReasonCompleted, res.Reason)
	assert.Equal(t, 1, res.Iteration)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, "raise contrast", res.Summary)
	assert.Equal(t, []string{"thinking", "recommendation:raise contrast", "iteration"}, events)
	assert.Equal(t, []int{1}, h.sink.iterations)
	assert.Equal(t, 1, h.sink.sessions)
	assert.Equal(t, 1, h.rec.iterations)
	assert.Equal(t, []string{"set_slider:executed"}, h.rec.actions)
}

func TestRunSeedsAndTracksState(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.exec.MockExecute = func(context.Context, int, []map[string]any, *calibration.Profile) (*executor.Result, error) {
		return &executor.Result{Outcomes: []executor.Outcome{
			{Index: 0, Action: action.SetSlider{Target: "contrast", Value: 1.4}, Status: executor.StatusExecuted},
			{Index: 1, Action: action.SetSlider{Target: "saturation", Value: 60}, Status: executor.StatusFailed},
			{Index: 2, Action: action.SetSlider{Target: "gamma", Value: 3}, Status: executor.StatusExecuted},
			{Index: 3, Action: action.Drag{Target: "lift_master", DX: 5}, Status: executor.StatusExecuted},
		}}, nil
	}

	res := h.runner.Run(context.Background(), singlePass(), nil)
	require.NoError(t, res.Err)

	reqs := h.client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]float64{"contrast": 1, "lift_master": 0, "saturation": 50}, reqs[0].CurrentState,
		"state is seeded from calibration defaults")
	assert.Equal(t, map[string]float64{"contrast": 1.4, "lift_master": 0, "saturation": 50}, res.State,
		"only executed set_slider actions on tracked controls update the state")
}

func TestRunKeepsProvidedState(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	opts := singlePass()
	opts.CurrentState = map[string]float64{"contrast": 1.1}
	opts.StartIteration = 7

	res := h.runner.Run(context.Background(), opts, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, 8, res.Iteration)
	assert.Equal(t, map[string]float64{"contrast": 1.2}, res.State)
	assert.Equal(t, map[string]float64{"contrast": 1.1}, opts.CurrentState, "the caller's map is not mutated")
}

func TestRunCalibrationMissing(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	var logs []string
	res := h.runner.Run(context.Background(), RunOptions{Reference: solid(warm)}, ObserverFuncs{Log: func(m string) { logs = append(logs, m) }})

	assert.NoError(t, res.Err)
	assert.Equal(t, ReasonCalibrationMissing, res.Reason)
	assert.Empty(t, h.client.Requests())
	assert.Equal(t, []string{"Calibration missing. Stopping automation."}, logs)
}

func TestRunModelStop(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.client.MockRequestActions = func(context.Context, llmclient.RequestContext) (*llmclient.Response, error) {
		return &llmclient.Response{Summary: "looks right", Stop: true, Raw: map[string]any{}}, nil
	}

	res := h.runner.Run(context.Background(), singlePass(), nil)
	assert.NoError(t, res.Err)
	assert.Equal(t, ReasonModelStop, res.Reason)
	assert.Equal(t, 0, res.Iteration)
	assert.Equal(t, "looks right", res.Summary)
	assert.Zero(t, h.exec.Batches())
}

func TestRunClientErrorPreservesState(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.client.MockRequestActions = func(context.Context, llmclient.RequestContext) (*llmclient.Response, error) {
		return nil, llmclient.ErrInvalidResponse
	}
	opts := singlePass()
	opts.StartIteration = 3

	res := h.runner.Run(context.Background(), opts, nil)
	require.ErrorIs(t, res.Err, llmclient.ErrInvalidResponse)
	assert.Equal(t, ReasonError, res.Reason)
	assert.Equal(t, 3, res.Iteration)
	assert.Equal(t, map[string]float64{"contrast": 1, "lift_master": 0, "saturation": 50}, res.State)
}

func TestRunExecutorStopped(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.exec.MockExecute = func(context.Context, int, []map[string]any, *calibration.Profile) (*executor.Result, error) {
		return &executor.Result{}, executor.ErrStopped
	}

	res := h.runner.Run(context.Background(), singlePass(), nil)
	assert.NoError(t, res.Err)
	assert.Equal(t, ReasonStopped, res.Reason)
}

// focusLostOnce fails the first batch with ErrFocusLost and runs the rest.
func (h *runnerHarness) focusLostOnce() {
	var calls atomic.Int32
	h.exec.MockExecute = func(ctx context.Context, it int, p []map[string]any, prof *calibration.Profile) (*executor.Result, error) {
		if calls.Add(1) == 1 {
			return &executor.Result{}, executor.ErrFocusLost
		}
		return h.exec.DefaultExecute(ctx, it, p, prof)
	}
}

func TestRunFocusLossPausesUntilResumed(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.focusLostOnce()
	var reasons []string
	obs := ObserverFuncs{Paused: func(reason string) {
		reasons = append(reasons, reason)
		assert.True(t, h.exec.IsPaused())
		go func() {
			time.Sleep(2 * pausePollInterval)
			h.exec.SetPaused(false)
		}()
	}}

	res := h.runner.Run(context.Background(), singlePass(), obs)
	require.NoError(t, res.Err)
	assert.Equal(t, ReasonCompleted, res.Reason)
	assert.Equal(t, 1, res.Iteration)
	assert.Equal(t, 2, h.exec.Batches())
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "input focus")
}

func TestRunFocusLossThenStop(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.focusLostOnce()

	opts := singlePass()
	opts.Continuous = true
	res := h.runner.Run(context.Background(), opts, ObserverFuncs{Paused: func(string) { go h.exec.Stop() }})
	assert.NoError(t, res.Err)
	assert.Equal(t, ReasonStopped, res.Reason)
	assert.Equal(t, 1, h.exec.Batches())
}

func TestRunFocusLossThenCancel(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.focusLostOnce()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := h.runner.Run(ctx, singlePass(), ObserverFuncs{Paused: func(string) { cancel() }})
	assert.NoError(t, res.Err)
	assert.Equal(t, ReasonCancelled, res.Reason)
}

func TestRunDragOnlyProfile(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	profile := calibration.FromROI(calibration.ROI{X: 0, Y: 0, Width: 64, Height: 48}, 1920, 1080, nil)
	profile.Targets["lift_wheel"] = calibration.Point{X: 120, Y: 300}
	h.client.MockRequestActions = func(context.Context, llmclient.RequestContext) (*llmclient.Response, error) {
		act := map[string]any{"type": "drag", "target": "lift_wheel", "dx": 10.0, "dy": 0.0}
		return &llmclient.Response{Summary: "lift", Actions: []map[string]any{act}, Confidence: 0.9, Raw: map[string]any{}}, nil
	}

	res := h.runner.Run(context.Background(), RunOptions{Reference: solid(warm), Profile: profile}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, ReasonCompleted, res.Reason)
	assert.Len(t, h.client.Requests(), 1)
	assert.Empty(t, res.State)
}

func TestRunStopFlagAndCancellation(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.exec.Stop()
	res := h.runner.Run(context.Background(), singlePass(), nil)
	assert.Equal(t, ReasonStopped, res.Reason)

	h = newRunnerHarness(t, config.RunnerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = h.runner.Run(ctx, singlePass(), nil)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.NoError(t, res.Err)
	assert.Empty(t, h.client.Requests())
}

func TestRunCancelledDuringRequest(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	h.client.MockRequestActions = func(ctx context.Context, _ llmclient.RequestContext) (*llmclient.Response, error) {
		cancel()
		return nil, ctx.Err()
	}

	res := h.runner.Run(ctx, singlePass(), nil)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.NoError(t, res.Err, "cancellation is not a failure")
}

func TestRunROITooSmall(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	opts := singlePass()
	opts.Profile.UpdateROI(calibration.ROI{Width: 1, Height: 40})

	res := h.runner.Run(context.Background(), opts, nil)
	assert.ErrorIs(t, res.Err, calibration.ErrROITooSmall)
	assert.Equal(t, ReasonError, res.Reason)
}

func TestRunReferenceSources(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	res := h.runner.Run(context.Background(), RunOptions{Profile: testProfile()}, nil)
	assert.ErrorIs(t, res.Err, ErrNoReference)

	path := filepath.Join(t.TempDir(), "reference.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solid(warm)))
	require.NoError(t, f.Close())

	res = h.runner.Run(context.Background(), RunOptions{ReferencePath: path, Profile: testProfile()}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, ReasonCompleted, res.Reason)

	res = h.runner.Run(context.Background(), RunOptions{ReferencePath: path + ".missing", Profile: testProfile()}, nil)
	assert.Error(t, res.Err)
}

func TestRunContinuousConverges(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{ConvergenceWindow: 3, ConvergenceThreshold: 0.02})
	opts := singlePass()
	opts.Continuous = true

	res := h.runner.Run(context.Background(), opts, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, ReasonConverged, res.Reason)
	assert.Equal(t, 3, res.Iteration, "identical captures converge once the window fills")
	assert.Len(t, h.client.Requests(), 3)
	assert.Equal(t, []int{1, 2, 3}, h.sink.iterations)
}

func TestRunContinuousMaxIterations(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{ConvergenceWindow: 10})
	opts := singlePass()
	opts.Continuous = true
	opts.MaxIterations = 2

	res := h.runner.Run(context.Background(), opts, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, ReasonMaxIterations, res.Reason)
	assert.Equal(t, 2, res.Iteration)
}

func TestRunContinuousCancelledDuringDelay(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{ConvergenceWindow: 10, ContinuousDelay: time.Hour})
	opts := singlePass()
	opts.Continuous = true
	ctx, cancel := context.WithCancel(context.Background())

	res := h.runner.Run(ctx, opts, ObserverFuncs{IterationFn: func(Iteration) { cancel() }})
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.Equal(t, 1, res.Iteration)
}

func TestRunUnparsedOutcomeRecorded(t *testing.T) {
	h := newRunnerHarness(t, config.RunnerConfig{})
	h.exec.MockExecute = func(context.Context, int, []map[string]any, *calibration.Profile) (*executor.Result, error) {
		return &executor.Result{Outcomes: []executor.Outcome{
			{Index: 0, Status: executor.StatusFailed, Err: errors.New("bad")},
		}}, nil
	}

	res := h.runner.Run(context.Background(), singlePass(), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"unparsed:failed"}, h.rec.actions)
}
